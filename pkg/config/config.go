// Package config loads configuration structs from YAML files and
// environment variables using struct tags: `env`, `default`, `required`.
// Environment variables win over YAML, YAML wins over defaults.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Validator interface allows config structs to implement custom validation logic.
// If a config struct implements this interface, validation is automatically
// called after loading.
type Validator interface {
	Validate() error
}

// Load populates dest from the YAML file at path (optional), then overlays
// environment variables, then applies defaults and checks required fields.
// If path is empty the file step is skipped. If allowFileErrors is true,
// a missing or malformed file falls back to env vars only.
func Load[T any](dest *T, path string, allowFileErrors bool) error {
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: config path comes from the operator
		switch {
		case err != nil && !allowFileErrors:
			return fmt.Errorf("failed to read config file: %w", err)
		case err == nil:
			if err := yaml.Unmarshal(data, dest); err != nil {
				if !allowFileErrors {
					return fmt.Errorf("failed to parse config file: %w", err)
				}
				// fall through to env-only loading
			}
		}
	}
	return LoadFromEnv(dest)
}

// LoadFromEnv populates dest from environment variables and defaults only.
func LoadFromEnv[T any](dest *T) error {
	val := reflect.ValueOf(dest).Elem()
	setFields := make(map[string]bool)
	if err := applyEnv(val, val.Type(), setFields); err != nil {
		return err
	}
	if err := applyDefaults(val, val.Type(), setFields); err != nil {
		var zero T
		*dest = zero // never hand back a half-populated config
		return err
	}
	if validator, ok := any(dest).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// applyEnv walks the struct recursively and overlays values from the
// environment. setFields records which fields the environment provided, so
// defaults do not overwrite them later.
func applyEnv(val reflect.Value, typeOfT reflect.Type, setFields map[string]bool) error {
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typeOfT.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := applyEnv(field, fieldType.Type, setFields); err != nil {
				return err
			}
			continue
		}

		tag := fieldType.Tag.Get("env")
		if tag == "" {
			continue
		}
		envVal := os.Getenv(tag)
		if envVal == "" {
			continue
		}

		// Key by struct type + field name to avoid collisions across nesting.
		setFields[typeOfT.Name()+"."+fieldType.Name] = true

		if err := setField(field, envVal); err != nil {
			return fmt.Errorf("env %s: %w", tag, err)
		}
	}
	return nil
}

// applyDefaults fills zero-valued fields from `default` tags and collects
// missing `required` fields into a single aggregated error.
func applyDefaults(val reflect.Value, typeOfT reflect.Type, setFields map[string]bool) error {
	var result error
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typeOfT.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := applyDefaults(field, fieldType.Type, setFields); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}

		required := strings.EqualFold(fieldType.Tag.Get("required"), "true")
		defaultTag := fieldType.Tag.Get("default")
		if required && defaultTag != "" {
			required = false // a default satisfies the requirement
		}

		if field.IsZero() && required {
			result = multierror.Append(result, fmt.Errorf(
				"required field env:%s / yaml:%s is missing",
				fieldType.Tag.Get("env"), fieldType.Tag.Get("yaml")))
			continue
		}

		fieldKey := typeOfT.Name() + "." + fieldType.Name
		if field.IsZero() && defaultTag != "" && !setFields[fieldKey] {
			if err := setField(field, defaultTag); err != nil {
				result = multierror.Append(result, fmt.Errorf(
					"default for yaml:%s: %w", fieldType.Tag.Get("yaml"), err))
			}
		}
	}
	return result
}

// setField parses raw into the field according to its concrete type.
func setField(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int64:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid int %q: %w", raw, err)
		}
		field.SetInt(v)
	case reflect.Float64, reflect.Float32:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid float %q: %w", raw, err)
		}
		field.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid bool %q: %w", raw, err)
		}
		field.SetBool(v)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		values := strings.Split(raw, ",")
		slice := reflect.MakeSlice(field.Type(), len(values), len(values))
		for i, v := range values {
			slice.Index(i).SetString(strings.TrimSpace(v))
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}
