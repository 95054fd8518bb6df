// Package loader provides functions for loading VirtualDisk resources
// from YAML files.
package loader

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/vdisk/api/v1alpha1"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their manifest names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LoadFromFile loads a VirtualDisk resource from a YAML file.
// The file must be in the vdisk.cofront.xyz/v1alpha1 format.
func LoadFromFile(path string) (*v1alpha1.VirtualDisk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	return LoadFromYAML(data)
}

// LoadFromYAML loads a VirtualDisk resource from YAML bytes.
func LoadFromYAML(data []byte) (*v1alpha1.VirtualDisk, error) {
	var vd v1alpha1.VirtualDisk
	if err := yaml.Unmarshal(data, &vd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if vd.APIVersion == "" {
		return nil, fmt.Errorf("missing required field: apiVersion")
	}
	if vd.Kind == "" {
		return nil, fmt.Errorf("missing required field: kind")
	}
	if vd.APIVersion != v1alpha1.APIVersion() {
		return nil, fmt.Errorf("unsupported apiVersion: %s (expected: %s)", vd.APIVersion, v1alpha1.APIVersion())
	}
	if vd.Kind != v1alpha1.VirtualDiskKind {
		return nil, fmt.Errorf("unsupported kind: %s (expected: %s)", vd.Kind, v1alpha1.VirtualDiskKind)
	}

	vd.Normalize()

	if err := validateSpec(&vd); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &vd, nil
}

// SaveToFile saves a VirtualDisk resource, status included, to a YAML file.
func SaveToFile(vd *v1alpha1.VirtualDisk, path string) error {
	v1alpha1.SetDefaultAPIVersion(vd)

	data, err := yaml.Marshal(vd)
	if err != nil {
		return fmt.Errorf("failed to marshal disk to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}

// validateSpec checks the struct tags of the spec and the rules tags cannot
// express.
func validateSpec(vd *v1alpha1.VirtualDisk) error {
	if vd.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}

	if err := validate.Struct(&vd.Spec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return describe(verrs[0])
		}
		return err
	}

	size, err := vd.SizeBytes()
	if err != nil {
		return fmt.Errorf("spec.size: %w", err)
	}
	if size%512 != 0 {
		return fmt.Errorf("spec.size %s is not a multiple of 512 bytes", vd.Spec.Size)
	}
	if vd.Spec.Type != v1alpha1.DiskTypeDifferencing && size == 0 {
		return fmt.Errorf("spec.size must be greater than 0")
	}
	if vd.Spec.Type != v1alpha1.DiskTypeDifferencing && vd.Spec.ParentPath != "" {
		return fmt.Errorf("spec.parentPath is only valid for differencing disks")
	}
	if vd.Spec.ParentPath != "" && vd.Spec.ParentPath == vd.Spec.Path {
		return fmt.Errorf("spec.parentPath must differ from spec.path")
	}

	if vd.Spec.Mirror != nil && vd.Spec.Mirror.Destination == vd.Spec.Path {
		return fmt.Errorf("spec.mirror.destination must differ from spec.path")
	}

	keysSeen := make(map[string]bool)
	for i, e := range vd.Spec.Metadata {
		key := e.ID
		if key == "" {
			key = e.Key
		}
		if keysSeen[key] {
			return fmt.Errorf("spec.metadata[%d] %q is duplicated", i, key)
		}
		keysSeen[key] = true
	}

	return nil
}

// describe renders a validation failure with the manifest path of the field.
func describe(fe validator.FieldError) error {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = "spec" + field[i:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "required_if":
		return fmt.Errorf("%s is required for %s disks", field, lastWord(fe.Param()))
	case "required_unless":
		return fmt.Errorf("%s is required unless the disk is %s", field, lastWord(fe.Param()))
	case "required_without":
		return fmt.Errorf("%s is required when id is empty", field)
	case "oneof":
		return fmt.Errorf("%s %v must be one of [%s]", field, fe.Value(), fe.Param())
	case "uuid":
		return fmt.Errorf("%s %q is not a UUID", field, fe.Value())
	default:
		return fmt.Errorf("%s failed %s validation", field, fe.Tag())
	}
}

func lastWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[len(fields)-1]
}
