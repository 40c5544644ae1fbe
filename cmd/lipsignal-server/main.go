package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lipsignal/lipsignal-go/auth"
	"github.com/lipsignal/lipsignal-go/callstate"
	"github.com/lipsignal/lipsignal-go/dispatch"
	"github.com/lipsignal/lipsignal-go/gateway"
	"github.com/lipsignal/lipsignal-go/inference"
	"github.com/lipsignal/lipsignal-go/internal/cmdutil"
	fsversion "github.com/lipsignal/lipsignal-go/internal/version"
	"github.com/lipsignal/lipsignal-go/media"
	"github.com/lipsignal/lipsignal-go/observability"
	"github.com/lipsignal/lipsignal-go/observability/prom"
	"github.com/lipsignal/lipsignal-go/ratelimit"
	"github.com/lipsignal/lipsignal-go/repo/memory"
	"github.com/lipsignal/lipsignal-go/session"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "--version" {
		fmt.Fprintln(stdout, fsversion.String(version, commit, date))
		return 0
	}

	logger := log.New(stderr, "", log.LstdFlags)

	host := cmdutil.EnvString("WEBSOCKET_HOST", "0.0.0.0")
	port := cmdutil.EnvString("WEBSOCKET_PORT", "8765")
	wsPath := cmdutil.EnvString("WS_PATH", "/ws")
	metricsAddr := cmdutil.EnvString("METRICS_ADDR", "")
	tlsCertFile := cmdutil.EnvString("TLS_CERT_FILE", "")
	tlsKeyFile := cmdutil.EnvString("TLS_KEY_FILE", "")
	privKeyFile := cmdutil.EnvString("JWT_RSA_PRIVATE_KEY", "")
	pubKeyFile := cmdutil.EnvString("JWT_RSA_PUBLIC_KEY", "")
	allowedOrigins := cmdutil.SplitCSVEnv("ALLOWED_ORIGINS")

	allowNoOrigin, err := cmdutil.EnvBool("ALLOW_NO_ORIGIN", false)
	if err != nil {
		fmt.Fprintf(stderr, "invalid ALLOW_NO_ORIGIN: %v\n", err)
		return 2
	}
	accessMinutes, err := cmdutil.EnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 15)
	if err != nil {
		fmt.Fprintf(stderr, "invalid ACCESS_TOKEN_EXPIRE_MINUTES: %v\n", err)
		return 2
	}
	refreshDays, err := cmdutil.EnvInt("REFRESH_TOKEN_EXPIRE_DAYS", 7)
	if err != nil {
		fmt.Fprintf(stderr, "invalid REFRESH_TOKEN_EXPIRE_DAYS: %v\n", err)
		return 2
	}
	rlWindow, err := cmdutil.EnvInt("RATE_LIMIT_WINDOW_SECONDS", 5)
	if err != nil {
		fmt.Fprintf(stderr, "invalid RATE_LIMIT_WINDOW_SECONDS: %v\n", err)
		return 2
	}
	rlMax, err := cmdutil.EnvInt("RATE_LIMIT_MAX_MESSAGES", 5)
	if err != nil {
		fmt.Fprintf(stderr, "invalid RATE_LIMIT_MAX_MESSAGES: %v\n", err)
		return 2
	}
	rlBan, err := cmdutil.EnvInt("RATE_LIMIT_BAN_SECONDS", 30)
	if err != nil {
		fmt.Fprintf(stderr, "invalid RATE_LIMIT_BAN_SECONDS: %v\n", err)
		return 2
	}
	heartbeatInterval, err := cmdutil.EnvInt("HEARTBEAT_INTERVAL_SECONDS", 10)
	if err != nil {
		fmt.Fprintf(stderr, "invalid HEARTBEAT_INTERVAL_SECONDS: %v\n", err)
		return 2
	}
	heartbeatTimeout, err := cmdutil.EnvInt("HEARTBEAT_TIMEOUT_SECONDS", 15)
	if err != nil {
		fmt.Fprintf(stderr, "invalid HEARTBEAT_TIMEOUT_SECONDS: %v\n", err)
		return 2
	}
	if privKeyFile == "" || pubKeyFile == "" {
		fmt.Fprintln(stderr, "missing JWT_RSA_PRIVATE_KEY or JWT_RSA_PUBLIC_KEY")
		return 2
	}
	if (tlsCertFile == "") != (tlsKeyFile == "") {
		fmt.Fprintln(stderr, "TLS_CERT_FILE and TLS_KEY_FILE must both be set or both be empty")
		return 2
	}

	privateKey, err := loadRSAPrivateKey(privKeyFile)
	if err != nil {
		fmt.Fprintf(stderr, "loading JWT_RSA_PRIVATE_KEY: %v\n", err)
		return 1
	}
	publicKey, err := loadRSAPublicKey(pubKeyFile)
	if err != nil {
		fmt.Fprintf(stderr, "loading JWT_RSA_PUBLIC_KEY: %v\n", err)
		return 1
	}

	users := memory.NewUsers()
	refreshTokens := memory.NewRefreshTokens()
	calls := memory.NewCalls()

	authCfg := auth.Config{
		AccessTTL:  time.Duration(accessMinutes) * time.Minute,
		RefreshTTL: time.Duration(refreshDays) * 24 * time.Hour,
	}
	authSvc := auth.New(authCfg, privateKey, publicKey, users, refreshTokens)

	registry := session.NewRegistry()
	pending := callstate.New(calls)

	obs := observability.NewAtomicObserver()

	terminus, err := media.New(media.Config{
		Registry:  registry,
		Pending:   pending,
		Calls:     calls,
		Obs:       obs,
		VideoPool: inference.NewVideoPool(),
		AudioPool: inference.NewAudioPool(),
	})
	if err != nil {
		fmt.Fprintf(stderr, "media terminus: %v\n", err)
		return 1
	}

	d := dispatch.New(authSvc, users, calls, registry, pending, terminus, obs)

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.Window = time.Duration(rlWindow) * time.Second
	limiterCfg.MaxMessages = rlMax
	limiterCfg.Ban = time.Duration(rlBan) * time.Second
	limiter := ratelimit.New(limiterCfg)

	gwCfg := gateway.DefaultConfig()
	gwCfg.Path = wsPath
	gwCfg.AllowedOrigins = allowedOrigins
	gwCfg.AllowNoOrigin = allowNoOrigin
	gwCfg.HeartbeatInterval = time.Duration(heartbeatInterval) * time.Second
	gwCfg.HeartbeatTimeout = time.Duration(heartbeatTimeout) * time.Second

	gw := gateway.New(gwCfg, d, registry, limiter, obs, logger)

	mux := http.NewServeMux()
	gw.Register(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if metricsAddr != "" {
		reg := prom.NewRegistry()
		obs.Set(prom.NewObserver(reg))
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", prom.Handler(reg))
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server: %v", err)
			}
		}()
		defer metricsSrv.Close()
	}

	addr := net.JoinHostPort(host, port)
	srv := &http.Server{Addr: addr, Handler: mux}
	if tlsCertFile != "" {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	go func() {
		var serveErr error
		if tlsCertFile != "" {
			serveErr = srv.ServeTLS(ln, tlsCertFile, tlsKeyFile)
		} else {
			serveErr = srv.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Fatal(serveErr)
		}
	}()
	logger.Printf("lipsignal-server listening on %s (ws path %s)", ln.Addr(), wsPath)

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	return 0
}

func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("PEM does not contain an RSA private key")
	}
	return rsaKey, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("PEM does not contain an RSA public key")
	}
	return rsaKey, nil
}
