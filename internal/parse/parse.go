// Package parse provides content parsers for watched files.
//
// Every parser has the shape func(io.Reader) (T, error) and can be passed
// directly to filecache.Watch.
package parse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

const (
	FormatJSON        = "json"
	FormatYAML        = "yaml"
	FormatTOML        = "toml"
	FormatText        = "text"
	FormatLines       = "lines"
	FormatProtoStruct = "proto-struct"
	FormatProtoJSON   = "proto-json"

	CompressionNone = "none"
	CompressionZstd = "zstd"
)

var ErrUnknownFormat = errors.New("unknown format")

// JSON decodes a single JSON document.
func JSON[T any](reader io.Reader) (T, error) {
	var value T
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(&value); err != nil {
		return value, fmt.Errorf("decode json: %w", err)
	}
	if decoder.More() {
		var zero T
		return zero, errors.New("decode json: trailing data")
	}
	return value, nil
}

func YAML[T any](reader io.Reader) (T, error) {
	var value T
	if err := yaml.NewDecoder(reader).Decode(&value); err != nil {
		var zero T
		if errors.Is(err, io.EOF) {
			return zero, errors.New("decode yaml: empty document")
		}
		return zero, fmt.Errorf("decode yaml: %w", err)
	}
	return value, nil
}

func TOML[T any](reader io.Reader) (T, error) {
	var value T
	if _, err := toml.NewDecoder(reader).Decode(&value); err != nil {
		var zero T
		return zero, fmt.Errorf("decode toml: %w", err)
	}
	return value, nil
}

// Text returns the whole content as a string.
func Text(reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Lines returns the non-empty, trimmed lines of the content. Lines starting
// with # are skipped.
func Lines(reader io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(reader)
	lines := []string{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Zstd wraps inner so it reads zstd-compressed content.
func Zstd[T any](inner func(io.Reader) (T, error)) func(io.Reader) (T, error) {
	return func(reader io.Reader) (T, error) {
		var zero T
		decoder, err := zstd.NewReader(reader)
		if err != nil {
			return zero, fmt.Errorf("zstd reader: %w", err)
		}
		defer decoder.Close()
		return inner(decoder)
	}
}

// Proto decodes a binary protobuf message created by newMessage.
func Proto[M proto.Message](newMessage func() M) func(io.Reader) (M, error) {
	return func(reader io.Reader) (M, error) {
		message := newMessage()
		data, err := io.ReadAll(reader)
		if err != nil {
			return message, err
		}
		if err := proto.Unmarshal(data, message); err != nil {
			var zero M
			return zero, fmt.Errorf("decode proto: %w", err)
		}
		return message, nil
	}
}

// ProtoJSON decodes the canonical JSON form of a protobuf message.
func ProtoJSON[M proto.Message](newMessage func() M) func(io.Reader) (M, error) {
	return func(reader io.Reader) (M, error) {
		message := newMessage()
		data, err := io.ReadAll(reader)
		if err != nil {
			return message, err
		}
		if err := protojson.Unmarshal(data, message); err != nil {
			var zero M
			return zero, fmt.Errorf("decode proto json: %w", err)
		}
		return message, nil
	}
}

// ByFormat returns an untyped parser for a format name, optionally reading
// compressed content.
func ByFormat(format, compression string) (func(io.Reader) (any, error), error) {
	var parser func(io.Reader) (any, error)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON, "":
		parser = erase(JSON[any])
	case FormatYAML, "yml":
		parser = erase(YAML[any])
	case FormatTOML:
		parser = erase(TOML[map[string]any])
	case FormatText:
		parser = erase(Text)
	case FormatLines:
		parser = erase(Lines)
	case FormatProtoStruct:
		parser = erase(Proto(newStruct))
	case FormatProtoJSON:
		parser = erase(ProtoJSON(newStruct))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	switch strings.ToLower(strings.TrimSpace(compression)) {
	case "", CompressionNone:
		return parser, nil
	case CompressionZstd:
		return Zstd(parser), nil
	default:
		return nil, fmt.Errorf("unknown compression: %s", compression)
	}
}

func newStruct() *structpb.Struct {
	return &structpb.Struct{}
}

func erase[T any](parser func(io.Reader) (T, error)) func(io.Reader) (any, error) {
	return func(reader io.Reader) (any, error) {
		value, err := parser(reader)
		if err != nil {
			return nil, err
		}
		return value, nil
	}
}

// MarshalJSON encodes a parsed value for output, using protojson for
// protobuf messages.
func MarshalJSON(value any) ([]byte, error) {
	if message, ok := value.(proto.Message); ok {
		return protojson.Marshal(message)
	}
	return json.Marshal(value)
}
