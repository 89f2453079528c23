// Package cliargs resolves the command-line configuration for the VPN
// client by hand-scanning os.Args, the same style as
// infrastructure/PAL/args and
// infrastructure/PAL/configuration/client/argument_resolver.go: no
// third-party flag library, just prefix matching on "--flag" and
// "--flag=value".
package cliargs

import (
	"fmt"
	"strings"
)

// ArgsProvider supplies the raw argument list, mirroring
// infrastructure/PAL/args.Provider so tests can inject a fixed slice
// instead of os.Args.
type ArgsProvider interface {
	Args() []string
}

// Config is everything the client needs to establish a session.
type Config struct {
	Host       string
	Username   string
	Password   string
	CertPath   string
	KeyPath    string
	CAPath     string
	PKCS12Path string
	PKCS12Pass string
	ScriptPath string
	TunName    string
	Verbose    bool
	Insecure   bool
	NoDTLS     bool
}

var flagSpecs = []struct {
	name   string
	target func(*Config) *string
}{
	{"--host", func(c *Config) *string { return &c.Host }},
	{"--user", func(c *Config) *string { return &c.Username }},
	{"--password", func(c *Config) *string { return &c.Password }},
	{"--cert", func(c *Config) *string { return &c.CertPath }},
	{"--key", func(c *Config) *string { return &c.KeyPath }},
	{"--cacert", func(c *Config) *string { return &c.CAPath }},
	{"--pkcs12", func(c *Config) *string { return &c.PKCS12Path }},
	{"--pkcs12-pass", func(c *Config) *string { return &c.PKCS12Pass }},
	{"--script", func(c *Config) *string { return &c.ScriptPath }},
	{"--tun", func(c *Config) *string { return &c.TunName }},
}

// Resolve parses the argument list into a Config. Unknown flags and
// positional arguments are ignored rather than rejected, matching the
// teacher's permissive --config scanning.
func Resolve(p ArgsProvider) (Config, error) {
	var cfg Config
	args := p.Args()

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "--verbose", "-v":
			cfg.Verbose = true
			continue
		case "--insecure":
			cfg.Insecure = true
			continue
		case "--no-dtls":
			cfg.NoDTLS = true
			continue
		}

		matched := false
		for _, spec := range flagSpecs {
			eq := spec.name + "="
			if strings.HasPrefix(arg, eq) {
				*spec.target(&cfg) = arg[len(eq):]
				matched = true
				break
			}
			if arg == spec.name {
				if i+1 >= len(args) {
					return Config{}, fmt.Errorf("cliargs: %s requires a value", spec.name)
				}
				*spec.target(&cfg) = args[i+1]
				i++
				matched = true
				break
			}
		}
		_ = matched
	}

	if cfg.Host == "" {
		return Config{}, fmt.Errorf("cliargs: --host is required")
	}
	return cfg, nil
}
