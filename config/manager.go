package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Manager is a flat key/value store filled from JSON files and the
// environment. Nested JSON objects become dotted keys.
type Manager struct {
	values map[string]any
	mu     sync.RWMutex
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{
		values: make(map[string]any),
	}
}

// Set sets a configuration value
func (m *Manager) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Get gets a configuration value
func (m *Manager) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.values[key]
	return value, exists
}

// GetString gets a string configuration value
func (m *Manager) GetString(key string, defaultValue ...string) string {
	if value, exists := m.Get(key); exists {
		if str, ok := value.(string); ok {
			return str
		}
		return fmt.Sprint(value)
	}

	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

// GetInt gets an integer configuration value
func (m *Manager) GetInt(key string, defaultValue ...int) int {
	if value, exists := m.Get(key); exists {
		if i, err := toInt(value); err == nil {
			return int(i)
		}
	}

	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return 0
}

// GetBool gets a boolean configuration value
func (m *Manager) GetBool(key string, defaultValue ...bool) bool {
	if value, exists := m.Get(key); exists {
		if b, err := toBool(value); err == nil {
			return b
		}
	}

	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return false
}

// GetDuration gets a duration configuration value. Bare numbers are seconds.
func (m *Manager) GetDuration(key string, defaultValue ...time.Duration) time.Duration {
	if value, exists := m.Get(key); exists {
		if d, err := toDuration(value); err == nil {
			return d
		}
	}

	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return 0
}

// LoadFromEnv loads variables named PREFIX_KEY. The key is lowercased and a
// double underscore stands for a dot, so XG_MIMETYPES__SVG sets
// "mimetypes.svg".
func (m *Manager) LoadFromEnv(prefix string) {
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}

		if prefix != "" {
			if !strings.HasPrefix(key, prefix+"_") {
				continue
			}
			key = key[len(prefix)+1:]
		}
		if key == "" {
			continue
		}

		key = strings.ToLower(key)
		key = strings.ReplaceAll(key, "__", ".")
		m.Set(key, value)
	}
}

// LoadFromJSON loads configuration from JSON file
func (m *Manager) LoadFromJSON(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse JSON config %s: %w", filename, err)
	}

	m.loadFromMap("", values)
	return nil
}

// loadFromMap recursively loads configuration from a map
func (m *Manager) loadFromMap(prefix string, values map[string]any) {
	for key, value := range values {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := value.(map[string]any); ok {
			m.loadFromMap(fullKey, nested)
		} else {
			m.Set(fullKey, value)
		}
	}
}

// Unmarshal copies the values under prefix into the fields of the struct
// target points to. The key of a field is its `config` tag, or its
// lowercased name. A map[string]string field collects every key below its
// own, so "mimetypes.svg" lands in MimeTypes["svg"]. Missing keys leave the
// field untouched.
func (m *Manager) Unmarshal(prefix string, target any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Pointer {
		return fmt.Errorf("target must be a pointer")
	}

	targetValue = targetValue.Elem()
	if targetValue.Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to struct")
	}

	targetType := targetValue.Type()
	for i := 0; i < targetType.NumField(); i++ {
		field := targetType.Field(i)
		fieldValue := targetValue.Field(i)

		if !fieldValue.CanSet() {
			continue
		}

		configKey := field.Tag.Get("config")
		if configKey == "-" {
			continue
		}
		if configKey == "" {
			configKey = strings.ToLower(field.Name)
		}
		if prefix != "" {
			configKey = prefix + "." + configKey
		}

		if fieldValue.Kind() == reflect.Map {
			if err := m.setMap(fieldValue, configKey+"."); err != nil {
				return fmt.Errorf("failed to set field %s: %w", field.Name, err)
			}
			continue
		}

		value, exists := m.values[configKey]
		if !exists {
			continue
		}
		if err := setFieldValue(fieldValue, value); err != nil {
			return fmt.Errorf("failed to set field %s from %q: %w", field.Name, configKey, err)
		}
	}

	return nil
}

func (m *Manager) setMap(field reflect.Value, prefix string) error {
	if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
		return fmt.Errorf("unsupported map type %v", field.Type())
	}
	for key, value := range m.values {
		if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
			continue
		}
		if field.IsNil() {
			field.Set(reflect.MakeMap(field.Type()))
		}
		field.SetMapIndex(reflect.ValueOf(key[len(prefix):]), reflect.ValueOf(fmt.Sprint(value)))
	}
	return nil
}

// setFieldValue converts value to the type of field
func setFieldValue(field reflect.Value, value any) error {
	if field.Type() == reflect.TypeFor[time.Duration]() {
		d, err := toDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		if str, ok := value.(string); ok {
			field.SetString(str)
		} else {
			field.SetString(fmt.Sprint(value))
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := toInt(value)
		if err != nil {
			return err
		}
		if field.OverflowInt(i) {
			return fmt.Errorf("%d overflows %v", i, field.Type())
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := toBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Float32, reflect.Float64:
		switch v := value.(type) {
		case float64:
			field.SetFloat(v)
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			field.SetFloat(f)
		default:
			return fmt.Errorf("cannot convert %T to %v", value, field.Type())
		}

	default:
		valueReflect := reflect.ValueOf(value)
		if !valueReflect.IsValid() || !valueReflect.Type().ConvertibleTo(field.Type()) {
			return fmt.Errorf("cannot convert %T to %v", value, field.Type())
		}
		field.Set(valueReflect.Convert(field.Type()))
	}

	return nil
}

func toInt(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to an integer", value)
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0", "":
			return false, nil
		}
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	return false, fmt.Errorf("cannot convert %T to a boolean", value)
}

func toDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(n * float64(time.Second)), nil
		}
		return time.ParseDuration(s)
	}
	return 0, fmt.Errorf("cannot convert %T to a duration", value)
}

// GetAll returns all configuration values
func (m *Manager) GetAll() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]any, len(m.values))
	for k, v := range m.values {
		result[k] = v
	}
	return result
}
