package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	// Report fields by their YAML names.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks struct tags first, then the rules tags cannot express.
func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return c.validateCustomRules()
}

// ValidateStorePath checks that storePath can be opened with this
// configuration.
func (c *Configuration) ValidateStorePath(storePath string) error {
	if storePath == "" {
		return errors.New("store path is required")
	}
	if strings.HasPrefix(storePath, "s3://") {
		cfg := c.Storage.S3
		return cfg.ParseURI(storePath)
	}
	if c.Storage.Badger.InMemory {
		return errors.New("storage.badger.in_memory cannot be combined with a store path")
	}
	return nil
}

func (c *Configuration) validateCustomRules() error {
	if c.Mount.FileMode == 0 {
		return errors.New("mount.file_mode: must not be zero")
	}
	if c.Mount.DirMode&0o100 == 0 {
		return fmt.Errorf("mount.dir_mode: %#o does not let the owner enter directories", c.Mount.DirMode)
	}
	if c.Backend.Retry.MaxDelay > 0 && c.Backend.Retry.MaxDelay < c.Backend.Retry.InitialDelay {
		return errors.New("backend.retry: max_delay must not be less than initial_delay")
	}
	if c.Backend.Retry.MaxDelay >= c.Backend.OperationTimeout {
		return errors.New("backend.retry: max_delay must be less than backend.operation_timeout")
	}
	if c.Storage.Badger.ReadOnly && !c.Mount.ReadOnly {
		return errors.New("storage.badger.read_only requires mount.read_only")
	}
	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
