package bundle

import (
	"encoding/binary"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"

	"github.com/cosc121od/pycode/internal/grading/model"
)

// ReuseKey fingerprints a grading event: the language, the code and the
// ordered test cases it ran against. A bundle stored under one key is only
// valid while the question keeps the same case set.
func ReuseKey(language, code string, cases []model.TestCase) string {
	h, _ := blake2b.New256(nil)
	writeField(h, language)
	writeField(h, code)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(cases)))
	h.Write(n[:])
	for _, tc := range cases {
		binary.BigEndian.PutUint64(n[:], uint64(tc.ID))
		h.Write(n[:])
		writeField(h, tc.Input)
		writeField(h, tc.Stdin)
		writeField(h, tc.ExpectedOutput)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes s so adjacent fields cannot run together.
func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
