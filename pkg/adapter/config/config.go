// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config is an adapter which accepts yaml formatted config
// files from its users and allows the txnest CLI to instantiate the
// database and worker process components using those loaded
// configuration settings. Settings are validated right after loading,
// so the end components may rely on them.
package config

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/txnest/txnest/pkg/adapter/db/postgres"
	"github.com/txnest/txnest/pkg/core/repo"
	"gopkg.in/yaml.v3"
)

// Config contains all settings which are required by the txnest CLI.
// It is preferred to implement Config with primitive fields or other
// structs which are defined locally, not structs which are defined in
// lower layers, so the configuration file format can be kept intact
// while other layers change freely.
type Config struct {
	Database Database `yaml:"database" validate:"required"`
	Worker   Worker   `yaml:"worker"`
}

// Database contains the database related configuration settings.
type Database struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`
	Name string `yaml:"name" validate:"required"`
	User string `yaml:"user" validate:"required"`
	Pass string `yaml:"pass"`
}

// Worker contains the launch settings of the auxiliary worker
// process. An empty Command makes the CLI re-execute its own binary
// with the worker sub-command.
type Worker struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Load function loads and validates the configuration file and
// returns its settings as an instance of the Config struct.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("unmarshaling yaml: %w", err)
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return nil, fmt.Errorf("validating settings: %w", err)
	}
	return c, nil
}

// URL returns the connection URL of the configured database.
func (d Database) URL() string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.Pass == "" {
		u.User = url.User(d.User)
	} else {
		u.User = url.UserPassword(d.User, d.Pass)
	}
	return u.String()
}

// ConnectionPool creates a database connection pool using the
// connection information which are kept in the `c` settings.
func (c *Config) ConnectionPool(ctx context.Context) (repo.Pool, error) {
	p, err := postgres.NewPool(ctx, c.Database.URL())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	return p, nil
}
