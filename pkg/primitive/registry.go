// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package primitive

import (
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Constructor takes a config string (optionally empty) and returns an Engine.
type Constructor func(config string) (Engine, error)

var (
	registryMu             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register engine with the given name, and a default constructor that takes as input a configuration string
// that is passed along to the engine constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// Registered returns the sorted names of the registered engines.
func Registered() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	return slices.Sorted(maps.Keys(registeredConstructors))
}

// DefaultConfig is the engine configuration to use if DNNBRIDGE_ENGINE is not set.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// EnvEngineConfig is the environment variable with the default engine configuration to use.
//
// The format of config is "<engine_name>:<engine_configuration>".
const EnvEngineConfig = "DNNBRIDGE_ENGINE"

// New returns a new default Engine.
//
// The default is:
//
// 1. The environment DNNBRIDGE_ENGINE is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered engine is used with an empty configuration.
func New() (Engine, error) {
	config, found := os.LookupEnv(EnvEngineConfig)
	if found {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// NewWithConfig takes a configuration string formatted as "<engine_name>:<engine_configuration>".
// The "<engine_name>" is the name of a registered engine (e.g.: "ref") and "<engine_configuration>" is
// engine specific. If the name is omitted, the first registered engine is used.
func NewWithConfig(config string) (Engine, error) {
	registryMu.Lock()
	if len(registeredConstructors) == 0 {
		registryMu.Unlock()
		return nil, errors.Errorf(`no registered primitive engines -- maybe import the reference one with import _ "github.com/gomlx/dnnbridge/engines/reference"?`)
	}
	engineName := firstRegistered
	engineConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		engineName = config[:idx]
		engineConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		engineName = config
		engineConfig = ""
	}
	constructor, found := registeredConstructors[engineName]
	registryMu.Unlock()
	if !found {
		return nil, errors.Errorf("can't find engine %q for configuration %q given, registered engines: %v",
			engineName, config, Registered())
	}
	engine, err := constructor(engineConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create engine %q with configuration %q", engineName, engineConfig)
	}
	return engine, nil
}
