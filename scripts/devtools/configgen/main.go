// Command configgen renders grader-service configs for each deployment
// listed in a profile by merging per-deployment overrides onto a base file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

type Profile struct {
	OutputDir   string                       `yaml:"outputDir"`
	Base        string                       `yaml:"base"`
	Shared      SharedProfile                `yaml:"shared"`
	Deployments map[string]DeploymentProfile `yaml:"deployments"`
}

// SharedProfile holds values every rendered config must agree on.
type SharedProfile struct {
	AuthSecret   string   `yaml:"authSecret"`
	AuthIssuer   string   `yaml:"authIssuer"`
	DatabaseDSN  string   `yaml:"databaseDSN"`
	RedisAddr    string   `yaml:"redisAddr"`
	KafkaBrokers []string `yaml:"kafkaBrokers"`
}

type DeploymentProfile struct {
	Base      string                 `yaml:"base"`
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "configs/dev-profile.yaml", "Path to config profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	flag.Parse()

	written, err := run(*profilePath, *outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Println(path)
	}
}

// run renders every deployment and returns the written paths in name order.
func run(profilePath, outputDirOverride string) ([]string, error) {
	profilePathAbs, err := filepath.Abs(profilePath)
	if err != nil {
		return nil, fmt.Errorf("resolve profile path failed: %w", err)
	}
	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		return nil, err
	}
	if outputDirOverride != "" {
		profile.OutputDir = outputDirOverride
	}
	if profile.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	profileDir := filepath.Dir(profilePathAbs)
	profile.OutputDir = resolvePath(profileDir, profile.OutputDir)

	names := make([]string, 0, len(profile.Deployments))
	for name := range profile.Deployments {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make([]string, 0, len(names))
	for _, name := range names {
		deployment := profile.Deployments[name]
		basePath := deployment.Base
		if basePath == "" {
			basePath = profile.Base
		}
		if basePath == "" {
			return nil, fmt.Errorf("deployment %q missing base config", name)
		}
		basePath = resolvePath(profileDir, basePath)

		config, err := loadYAML(basePath)
		if err != nil {
			return nil, fmt.Errorf("load base config for %q failed: %w", name, err)
		}
		if len(deployment.Overrides) > 0 {
			config, err = mergeMap(config, normalizeValue(deployment.Overrides))
			if err != nil {
				return nil, fmt.Errorf("merge overrides for %q failed: %w", name, err)
			}
		}
		config, err = applyShared(profile.Shared, config)
		if err != nil {
			return nil, fmt.Errorf("apply shared values for %q failed: %w", name, err)
		}

		output := deployment.Output
		if output == "" {
			output = name + ".yaml"
		}
		outputPath := resolvePath(profile.OutputDir, output)
		if err := writeYAML(outputPath, config); err != nil {
			return nil, fmt.Errorf("write config for %q failed: %w", name, err)
		}
		written = append(written, outputPath)
	}
	return written, nil
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if len(profile.Deployments) == 0 {
		return nil, errors.New("profile has no deployments")
	}
	return &profile, nil
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}

	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	return normalizeValue(value), nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap deep-merges override onto base. Lists and scalars are replaced.
func mergeMap(base interface{}, override interface{}) (interface{}, error) {
	baseMap, ok := base.(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	overrideMap, ok := override.(map[string]interface{})
	if !ok {
		return nil, errors.New("override config is not a map")
	}

	merged := make(map[string]interface{}, len(baseMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for key, overrideValue := range overrideMap {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			combined, err := mergeMap(baseChild, overrideChild)
			if err != nil {
				return nil, err
			}
			merged[key] = combined
			continue
		}
		merged[key] = overrideValue
	}
	return merged, nil
}

func applyShared(shared SharedProfile, config interface{}) (interface{}, error) {
	root, ok := config.(map[string]interface{})
	if !ok {
		return nil, errors.New("service config is not a map")
	}
	if shared.AuthSecret != "" {
		section(root, "auth")["secret"] = shared.AuthSecret
	}
	if shared.AuthIssuer != "" {
		section(root, "auth")["issuer"] = shared.AuthIssuer
	}
	if shared.DatabaseDSN != "" {
		section(root, "database")["dsn"] = shared.DatabaseDSN
	}
	if shared.RedisAddr != "" {
		section(root, "redis")["addr"] = shared.RedisAddr
	}
	if len(shared.KafkaBrokers) > 0 {
		brokers := make([]interface{}, 0, len(shared.KafkaBrokers))
		for _, b := range shared.KafkaBrokers {
			brokers = append(brokers, b)
		}
		section(root, "kafka")["brokers"] = brokers
	}
	return root, nil
}

func section(root map[string]interface{}, key string) map[string]interface{} {
	child, ok := root[key].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
		root[key] = child
	}
	return child
}
