package main

import "time"

// GlobalFlags are persistent on the root command. Everything except
// ConfigPath is read back through config.Load so that env and file
// values apply when a flag is not given.
type GlobalFlags struct {
	ConfigPath     string
	Name           string
	Group          string
	ProcessName    string
	LogLevel       string
	LogFormat      string
	LogFile        string
	ServerURL      string
	Username       string // supervisord credentials
	Password       string
	RPCTimeout     time.Duration
	TickTimeout    time.Duration
	RestartTimeout time.Duration
	MetricsListen  string
	HistoryDSN     string
}

type HTTPFlags struct {
	URL        string
	Port       string
	Host       string
	Timeout    int // seconds
	NumRetries int
	Username   string // basic auth towards the probed endpoint
	Password   string
}

type TCPFlags struct {
	Port       string
	Host       string
	Timeout    int
	NumRetries int
}

type CPUFlags struct {
	MaxCPU   float64 // percent
	Interval int     // seconds
}

type MemoryFlags struct {
	MaxRSS     int64 // KB
	Cumulative bool
	Interval   int
}

type FileFlags struct {
	Timeout     int
	FailOnError bool
	File        string
	Dir         string
}

type ComplexFlags struct {
	CheckConfig string // JSON
}
