// Command stubrealm runs the stub Realm backend and its mock identity
// provider on two local listeners, for driving the suite by hand.
//
// Usage:
//
//	go run ./cmd/stubrealm -addr 127.0.0.1:7071 -idp-addr 127.0.0.1:7072
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/xevolve/realm-e2e/internal/obs"
	"github.com/xevolve/realm-e2e/internal/stubrealm"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7071", "backend API listen address")
	idpAddr := flag.String("idp-addr", "127.0.0.1:7072", "identity provider listen address")
	staySignedIn := flag.Bool("stay-signed-in", true, "show the Stay signed in? prompt")
	consent := flag.Bool("consent", false, "show the consent prompt")
	flag.Parse()

	obs.Init()
	log := obs.Pkg("main")

	if err := run(*addr, *idpAddr, *staySignedIn, *consent); err != nil {
		log.Error("stubrealm failed", "err", err)
		os.Exit(1)
	}
}

func run(addr, idpAddr string, staySignedIn, consent bool) error {
	log := obs.Pkg("main")

	srv, err := stubrealm.New(stubrealm.Options{
		LocalUsers: map[string]string{
			"test@example.com": "local-test-password",
		},
		SSOUsers: map[string]stubrealm.SSOUser{
			"test.sso.user@xevolve.io": {
				Password: "sso-test-password",
				Name:     "Test SSO User",
				Roles:    []string{"admin"},
			},
		},
		ShowStaySignedIn: staySignedIn,
		ShowConsent:      consent,
	})
	if err != nil {
		return fmt.Errorf("create stub: %w", err)
	}

	apiLis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	idpLis, err := net.Listen("tcp", idpAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", idpAddr, err)
	}

	idpServer := &http.Server{Handler: srv.IDPMux(), ReadHeaderTimeout: 5 * time.Second}
	apiServer := &http.Server{Handler: srv.APIMux(), ReadHeaderTimeout: 5 * time.Second}

	idpErr := make(chan error, 1)
	go func() { idpErr <- idpServer.Serve(idpLis) }()

	// Discovery must be reachable before the OAuth client can be wired.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	apiURL := "http://" + apiLis.Addr().String()
	idpURL := "http://" + idpLis.Addr().String()
	if err := srv.SetURLs(ctx, apiURL, idpURL); err != nil {
		return err
	}

	log.Info("stubrealm up", "api", apiURL, "idp", idpURL)

	apiErr := make(chan error, 1)
	go func() { apiErr <- apiServer.Serve(apiLis) }()

	select {
	case err := <-idpErr:
		return fmt.Errorf("idp server: %w", err)
	case err := <-apiErr:
		return fmt.Errorf("api server: %w", err)
	}
}
