// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cmd provides the zapupload commands.
package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FlagLoader reads settings with CLI flag precedence. A flag set on the
// command line wins; otherwise viper's order applies: vault overlay, env,
// config file, flag default.
type FlagLoader struct {
	cmd *cobra.Command
}

func NewFlagLoader(cmd *cobra.Command) *FlagLoader {
	return &FlagLoader{cmd: cmd}
}

func lookup[T any](f *FlagLoader, name string, fromFlag func(*pflag.FlagSet, string) (T, error), fromViper func(string) T) T {
	flags := f.cmd.Flags()
	if flags.Changed(name) {
		if v, err := fromFlag(flags, name); err == nil {
			return v
		}
	}
	return fromViper(name)
}

func (f *FlagLoader) String(name string) string {
	return lookup(f, name, (*pflag.FlagSet).GetString, viper.GetString)
}

func (f *FlagLoader) Int(name string) int {
	return lookup(f, name, (*pflag.FlagSet).GetInt, viper.GetInt)
}

func (f *FlagLoader) Int64(name string) int64 {
	return lookup(f, name, (*pflag.FlagSet).GetInt64, viper.GetInt64)
}

func (f *FlagLoader) Float64(name string) float64 {
	return lookup(f, name, (*pflag.FlagSet).GetFloat64, viper.GetFloat64)
}

func (f *FlagLoader) Bool(name string) bool {
	return lookup(f, name, (*pflag.FlagSet).GetBool, viper.GetBool)
}

func (f *FlagLoader) Duration(name string) time.Duration {
	return lookup(f, name, (*pflag.FlagSet).GetDuration, viper.GetDuration)
}

// StringSlice also accepts a comma separated string from env or config.
func (f *FlagLoader) StringSlice(name string) []string {
	return lookup(f, name, (*pflag.FlagSet).GetStringSlice, viper.GetStringSlice)
}
