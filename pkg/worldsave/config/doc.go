/*
Package config loads engine settings from YAML or JSON.

# Overview

Config wraps a map[string]any and provides typed accessors that return a
default when a key is missing or has the wrong type. Keys may be dotted
paths into nested maps:

	cfg, err := config.FromFile("worldsave.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	timeout := cfg.Duration("load_timeout", 30*time.Second)
	backend := cfg.String("backend.type", "memory")

# Settings

Settings is the typed engine configuration. SettingsFrom starts from
DefaultSettings and overrides whatever the file sets:

	strategy: full
	multithreaded_saving: true
	load_method: deferred
	deferred_batch_size: 25
	load_timeout: 10s
	streaming: enabled
	backend:
	  type: bolt
	  path: saves.bolt
	class_redirects:
	  /Game/Old/Crate: /Game/Items/Crate

Unknown enum values fail SettingsFrom; out-of-range numbers fail Validate.
Both errors wrap ErrInvalidSettings.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
