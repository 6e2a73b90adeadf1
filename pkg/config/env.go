// Package config loads KubeDoor's environment-variable-driven configuration
// for both binaries, in the teacher's flag.StringVar(&opts.X, "x",
// env.WithDefaultString("X", ""), ...) shape
// (aws-karpenter-provider-aws/cmd/controller/main.go), generalized into
// reusable WithDefault* helpers and validated with go-playground/validator struct
// tags so a missing required variable aborts startup with a precise field
// name, per spec.md's "Fatal conditions".
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

func WithDefaultString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func WithDefaultInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func WithDefaultBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func WithDefaultDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

var validate = validator.New()

// Validate runs struct-tag validation over an options struct and turns the
// first failure into a process-ending error message naming the offending
// field, matching spec.md §7's "Fatal conditions: missing required env var".
func Validate(opts interface{}) error {
	if err := validate.Struct(opts); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config validation failed: field %q failed on %q", fe.Namespace(), fe.Tag())
		}
		return err
	}
	return nil
}
