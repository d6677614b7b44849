package main

import "time"

// Flag structs decouple cobra wiring from the command logic for testing.

// GlobalFlags holds persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
}

type StartFlags struct {
	ConfigPath string
	Name       string
	Cmd        string
	Args       []string
	WorkDir    string
	Port       int
	EnvKVs     []string
	Detached   bool
	Timeout    time.Duration
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StopFlags struct {
	Name   string
	Signal string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type RestartFlags struct {
	Name string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	Name string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StatsFlags struct {
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type LogsFlags struct {
	Name string
	N    int
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type UsageFlags struct {
	Name    string
	History bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type HealthFlags struct {
	Name    string
	Healthy bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type KillAllFlags struct {
	Signal string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type UpFlags struct {
	ConfigPath string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	LogFile    string
}
