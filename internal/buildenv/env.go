// Package buildenv resolves the build environment from process inputs.
package buildenv

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.trai.ch/zerr"
)

const (
	// DefaultHost is used when no host is given.
	DefaultHost = "localhost"
	// DefaultPort is used when PORT is unset or not a valid port number.
	DefaultPort uint16 = 3000
	// LocalNetHost asks for the machine's local network address instead of a literal host.
	LocalNetHost = "local-net"
)

// ErrNoLocalAddress is returned when local-net detection finds no usable interface address.
var ErrNoLocalAddress = zerr.New("no non-loopback IPv4 address found")

// Environment is the immutable input to pipeline derivation.
type Environment struct {
	Production bool   `json:"production" yaml:"production"`
	Host       string `json:"host"       yaml:"host"`
	Port       uint16 `json:"port"       yaml:"port"`
}

// WithDefaults returns a copy with the host and port defaults filled in.
func (e Environment) WithDefaults() Environment {
	if e.Host == "" {
		e.Host = DefaultHost
	}
	if e.Port == 0 {
		e.Port = DefaultPort
	}
	return e
}

// Addr returns host:port.
func (e Environment) Addr() string {
	e = e.WithDefaults()
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// URL returns the http URL of the dev server.
func (e Environment) URL() string {
	return "http://" + e.Addr()
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// DetectFunc returns the local network address used for --host=local-net.
type DetectFunc func() (string, error)

// Resolver builds an Environment. The zero value reads the real process environment.
type Resolver struct {
	Lookup LookupFunc
	Detect DetectFunc
}

// Resolve builds the environment for the given mode and --host value.
// PORT comes from the environment, with Flag > Env > Default precedence applied by the caller
// for everything else.
func (r Resolver) Resolve(production bool, hostArg string) (Environment, error) {
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	detect := r.Detect
	if detect == nil {
		detect = LocalNetworkAddress
	}

	host, err := resolveHost(hostArg, detect)
	if err != nil {
		return Environment{}, err
	}

	return Environment{
		Production: production,
		Host:       host,
		Port:       portFromEnv(lookup),
	}, nil
}

func resolveHost(arg string, detect DetectFunc) (string, error) {
	arg = strings.TrimSpace(arg)
	switch arg {
	case "":
		return DefaultHost, nil
	case LocalNetHost:
		addr, err := detect()
		if err != nil {
			return "", zerr.Wrap(err, "failed to detect local network address")
		}
		return addr, nil
	default:
		return arg, nil
	}
}

func portFromEnv(lookup LookupFunc) uint16 {
	raw, ok := lookup("PORT")
	if !ok {
		return DefaultPort
	}
	port, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 16)
	if err != nil || port == 0 {
		return DefaultPort
	}
	return uint16(port)
}

// LocalNetworkAddress returns the first non-loopback IPv4 address of this machine.
func LocalNetworkAddress() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	return firstIPv4(addrs)
}

func firstIPv4(addrs []net.Addr) (string, error) {
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", ErrNoLocalAddress
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left untouched. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return zerr.With(zerr.Wrap(err, "failed to load env file"), "path", path)
	}
	return nil
}
