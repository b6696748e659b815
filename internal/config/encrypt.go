package config

import (
	"os"

	"github.com/rowjay/site-backup/internal/cryptoutil"
	"github.com/rowjay/site-backup/internal/errs"
)

// EncryptConfigFile seals the config file at inputPath with key and writes the
// result to outputPath, readable only by its owner.
func EncryptConfigFile(inputPath, outputPath, key string) error {
	raw, err := cryptoutil.ParseKey(key)
	if err != nil {
		return errs.New(errs.KindConfiguration, "invalid config key", err)
	}
	plain, err := os.ReadFile(inputPath)
	if err != nil {
		return errs.New(errs.KindConfiguration, "read config "+inputPath, err)
	}
	sealed, err := cryptoutil.EncryptConfig(plain, raw)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, sealed, 0o600); err != nil {
		return errs.Resource("write encrypted config", err)
	}
	return nil
}
