package config

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the struct tags of cfg and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if cfg.Backend == BackendVirtDisk && runtime.GOOS != "windows" {
		return fmt.Errorf("backend: virtdisk is only available on windows")
	}

	return nil
}

// formatValidationError reports the first failed field with its tag.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
