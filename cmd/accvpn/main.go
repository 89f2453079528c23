// Command accvpn is the entry point: it resolves CLI configuration,
// authenticates against the gateway, negotiates the CSTP handshake and
// hands the resulting session to the engine's poll loop. Grounded on
// main.go's wiring style — small, linear, delegating all real work to
// packages — generalized from the teacher's tunnel-client bootstrap to
// this spec's auth-then-handshake-then-engine sequence.
package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"accvpn/internal/auth"
	"accvpn/internal/certs"
	"accvpn/internal/cliargs"
	"accvpn/internal/cstp"
	"accvpn/internal/dtlschan"
	"accvpn/internal/engine"
	"accvpn/internal/hostcfg"
	"accvpn/internal/logging"
	"accvpn/internal/presentation"
	"accvpn/internal/progress"
	"accvpn/internal/script"
	"accvpn/internal/session"
	"accvpn/internal/signalsrc"
	"accvpn/internal/tundev"
)

type osArgs struct{}

func (osArgs) Args() []string { return os.Args[1:] }

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "accvpn:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cliargs.Resolve(osArgs{})
	if err != nil {
		return err
	}

	log := logging.New()
	prog := progress.Sink(progress.NewStderrSink())

	var tlsConf *tls.Config
	var cache *hostcfg.Cache
	cacheDir, cerr := os.UserCacheDir()
	if cerr != nil {
		cacheDir = os.TempDir()
	}
	cachePath := filepath.Join(cacheDir, "accvpn", "hosts.json")

	// Building the TLS config (possibly decoding a PKCS#12 bundle) and
	// loading the host cache are independent I/O operations; run them
	// concurrently the way the teacher's startup path overlaps
	// independent setup work with golang.org/x/sync/errgroup.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		tlsConf, err = certs.Build(certs.Options{
			CertPath:           cfg.CertPath,
			KeyPath:            cfg.KeyPath,
			PKCS12Path:         cfg.PKCS12Path,
			PKCS12Password:     cfg.PKCS12Pass,
			CAPath:             cfg.CAPath,
			InsecureSkipVerify: cfg.Insecure,
			ServerName:         cfg.Host,
		})
		return err
	})
	g.Go(func() error {
		var err error
		cache, err = hostcfg.Open(cachePath)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	prog.Report("connecting to %s", cfg.Host)

	if cfg.Password == "" {
		cfg.Password, err = presentation.PromptPassword(fmt.Sprintf("password for %s@%s", cfg.Username, cfg.Host))
		if err != nil {
			return err
		}
	}

	authenticator, err := auth.New(cfg.Host, tlsConf, presentation.GroupSelector{})
	if err != nil {
		return err
	}
	result, err := authenticator.Login(cfg.Username, cfg.Password)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	prog.Report("authenticated as %s", cfg.Username)

	sess, err := session.New(cfg.Host, result.Cookie)
	if err != nil {
		return err
	}
	sess.TLSConfig = tlsConf
	if cfg.NoDTLS {
		sess.DTLS.AttemptPeriod = 0
	}
	if entry, ok := cache.Lookup(cfg.Host); ok && entry.MTU > 0 {
		sess.MTU = entry.MTU
	} else {
		sess.MTU = 1406
	}

	peerAddr := net.JoinHostPort(cfg.Host, "443")
	cstpChan := cstp.NewChannel(log, cfg.Host, tlsConf)
	if err := cstpChan.Connect(peerAddr, sess.Cookie, sess); err != nil {
		return fmt.Errorf("CSTP handshake failed: %w", err)
	}
	prog.Report("connected: address=%s mtu=%d deflate=%v", sess.VPNAddr, sess.MTU, sess.DeflateOK)

	_ = cache.Remember(hostEntry(cfg.Host, sess))

	tunName := cfg.TunName
	tun, err := tundev.Open(tunName)
	if err != nil {
		cstpChan.Close(sess)
		return fmt.Errorf("opening tun device: %w", err)
	}
	defer tun.Close()

	if err := tundev.Configure(tun.Name(), sess.VPNAddr, sess.VPNMask, sess.MTU); err != nil {
		cstpChan.Close(sess)
		return fmt.Errorf("configuring tun device: %w", err)
	}
	defer func() { _ = tundev.Teardown(tun.Name()) }()

	scriptRunner := script.New(cfg.ScriptPath)
	if err := scriptRunner.Run(connectEnv(tun.Name(), sess)); err != nil {
		log.Printf("connect script: %v", err)
	}

	dtlsChan := dtlschan.NewChannel(log)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, signalsrc.NewDefaultProvider().ShutdownSignals()...)
	defer signal.Stop(shutdown)

	eng := engine.New(log, prog, sess, cstpChan, dtlsChan, tun, scriptRunner, engine.Config{
		PeerAddr:         peerAddr,
		ReconnectTimeout: 5 * time.Minute,
	}, shutdown)
	eng.SetDTLSCredentials(tlsConf.Certificates, cfg.Insecure)

	return eng.Run()
}

func hostEntry(host string, sess *session.Session) hostcfg.Entry {
	e := hostcfg.Entry{Host: host, MTU: sess.MTU, DTLSPort: sess.DTLS.Port}
	if sess.VPNAddr != nil {
		if addr, ok := netip.AddrFromSlice(sess.VPNAddr.To4()); ok {
			e.LastVPNIP = addr
		}
	}
	return e
}

func connectEnv(tunName string, sess *session.Session) script.Env {
	env := script.Env{
		TunDevice:          tunName,
		Reason:             script.ReasonConnect,
		InternalIP4Address: sess.VPNAddr,
		InternalIP4Netmask: sess.VPNMask,
		InternalIP4MTU:     sess.MTU,
		InternalIP4DNS:     sess.VPNDNS,
		InternalIP4NBNS:    sess.VPNNBNS,
		CiscoDefDomain:     sess.VPNDomain,
	}
	if sess.PeerAddr != nil {
		env.VPNGateway = sess.PeerAddr.IP
	}
	return env
}
