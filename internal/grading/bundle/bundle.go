// Package bundle encodes result bundles for persistence and caching.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cosc121od/pycode/internal/grading/model"
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

// FormatVersion is written into every encoded bundle.
const FormatVersion = 1

type envelope struct {
	Version int                `json:"version"`
	Results []model.TestResult `json:"results"`
	Abort   *model.AbortInfo   `json:"abort,omitempty"`
}

// Serialize encodes a bundle as versioned JSON.
func Serialize(b model.ResultBundle) ([]byte, error) {
	results := b.Results
	if results == nil {
		results = []model.TestResult{}
	}
	data, err := json.Marshal(envelope{Version: FormatVersion, Results: results, Abort: b.Abort})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.BundleEncodeFailed, "encode result bundle failed")
	}
	return data, nil
}

// Deserialize decodes data written by Serialize.
func Deserialize(data []byte) (model.ResultBundle, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return model.ResultBundle{}, appErr.SerializationError(nil).WithMessage("result bundle is empty")
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.ResultBundle{}, appErr.SerializationError(err)
	}
	if env.Version != FormatVersion {
		return model.ResultBundle{}, appErr.SerializationError(fmt.Errorf("unsupported bundle version %d", env.Version))
	}
	if env.Results == nil {
		return model.ResultBundle{}, appErr.SerializationError(fmt.Errorf("result list is missing"))
	}
	return model.ResultBundle{Results: env.Results, Abort: env.Abort}, nil
}

// Rehydrate decodes data and reports whether a usable bundle was found.
// Empty or malformed data yields ok == false.
func Rehydrate(data []byte) (model.ResultBundle, bool) {
	b, err := Deserialize(data)
	if err != nil {
		return model.ResultBundle{}, false
	}
	return b, true
}
