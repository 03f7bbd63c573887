package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultDotEnv is the file LoadDotEnv reads when called without paths.
const DefaultDotEnv = ".env"

// LoadDotEnv sets environment variables from .env files. Variables already
// present in the environment win. Without paths, DefaultDotEnv is read if
// it exists.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(DefaultDotEnv); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		paths = []string{DefaultDotEnv}
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("config: load dotenv: %w", err)
	}
	return nil
}

// LoadFile decodes the YAML file at path into dst. Unknown keys are errors.
func LoadFile(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	if err := Decode(f, dst); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// Decode decodes YAML from r into dst. An empty document leaves dst unchanged.
func Decode(r io.Reader, dst any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
