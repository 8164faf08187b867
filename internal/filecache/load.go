package filecache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"

	"watchcache/internal/logging"
)

// Parser turns the content of a file into a value.
type Parser[T any] func(io.Reader) (T, error)

var errNilValue = errors.New("parser returned no value")

// loadFile opens path and feeds it to parser. Every failure, a parser panic
// included, is logged and returned; the caller keeps its previous value.
func loadFile[T any](logger *logging.Logger, name, path string, parser Parser[T]) (value T, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			var zero T
			value = zero
			err = fmt.Errorf("parser panic: %v", recovered)
			logReadFailure(logger, name, path, err)
		}
	}()

	file, err := os.Open(path)
	if err != nil {
		logReadFailure(logger, name, path, err)
		return value, err
	}
	defer file.Close()

	parsed, err := parser(file)
	if err != nil {
		logReadFailure(logger, name, path, err)
		return value, err
	}
	if isNil(parsed) {
		logReadFailure(logger, name, path, errNilValue)
		return value, errNilValue
	}

	logger.Info("Read "+name+" success", map[string]string{
		"path": path,
	})
	return parsed, nil
}

func logReadFailure(logger *logging.Logger, name, path string, err error) {
	logger.Error("Error reading file "+name, map[string]string{
		"path":  path,
		"error": err.Error(),
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isNil(value any) bool {
	kind := reflect.ValueOf(value)
	if !kind.IsValid() {
		return true
	}
	switch kind.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return kind.IsNil()
	default:
		return false
	}
}

// sameValue reports whether a and b refer to the same underlying value.
func sameValue(a, b any) bool {
	left := reflect.ValueOf(a)
	right := reflect.ValueOf(b)
	if !left.IsValid() || !right.IsValid() {
		return !left.IsValid() && !right.IsValid()
	}
	if left.Type() != right.Type() {
		return false
	}
	switch left.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Slice, reflect.UnsafePointer:
		return left.Pointer() == right.Pointer()
	}
	if left.Comparable() && right.Comparable() {
		return left.Equal(right)
	}
	return false
}

// releaseValue closes value when it holds resources.
func releaseValue[T any](logger *logging.Logger, name string, value T, release func(T) error) {
	if isNil(value) {
		return
	}
	var err error
	if release != nil {
		err = release(value)
	} else if closer, ok := any(value).(io.Closer); ok {
		err = closer.Close()
	}
	if err != nil {
		logger.Warn("release value failed", map[string]string{
			"name":  name,
			"error": err.Error(),
		})
	}
}
