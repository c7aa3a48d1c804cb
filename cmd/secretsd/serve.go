package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	sp "github.com/sofigonzalez2012/secrets-project"
	authgrpc "github.com/sofigonzalez2012/secrets-project/grpc"
	"github.com/sofigonzalez2012/secrets-project/internal/httpserver"
	"github.com/sofigonzalez2012/secrets-project/internal/logutil"
	"github.com/sofigonzalez2012/secrets-project/oauth2"
)

type providerOptions struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

func (p *providerOptions) flags(name string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        name + "-client-id",
			Usage:       "OAuth client id for " + name + " login (empty disables it)",
			Destination: &p.ClientID,
		},
		&cli.StringFlag{
			Name:        name + "-client-secret",
			Usage:       "OAuth client secret for " + name + " login",
			Destination: &p.ClientSecret,
		},
		&cli.StringFlag{
			Name:        name + "-callback-url",
			Usage:       "Redirect URL registered with " + name + ", ending in /auth/" + name + "/callback",
			Destination: &p.CallbackURL,
		},
	}
}

func serveCmd() *cli.Command {
	bindAddr := "localhost:3000"
	grpcAddr := ""
	stateKey := ""
	afterLoginURL := "/secrets"
	failureURL := ""
	secureCookie := false
	sweepInterval := 10 * time.Minute
	var stores storeOptions
	var googleOpts, facebookOpts providerOptions

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "bind",
			Usage:       "Address of the HTTP server",
			Value:       bindAddr,
			EnvVars:     []string{"SECRETS_BIND"},
			Destination: &bindAddr,
		},
		&cli.StringFlag{
			Name:        "grpc-bind",
			Usage:       "Address of the gRPC server (empty disables it)",
			EnvVars:     []string{"SECRETS_GRPC_BIND"},
			Destination: &grpcAddr,
		},
		&cli.StringFlag{
			Name:        "state-key",
			Usage:       "Key signing the OAuth state parameter; random per process when empty",
			EnvVars:     []string{"SECRETS_STATE_KEY"},
			Destination: &stateKey,
		},
		&cli.StringFlag{
			Name:        "after-login-url",
			Usage:       "Where browsers go after a provider login",
			Value:       afterLoginURL,
			Destination: &afterLoginURL,
		},
		&cli.StringFlag{
			Name:        "failure-url",
			Usage:       "Where browsers go when a provider login fails",
			Destination: &failureURL,
		},
		&cli.BoolFlag{
			Name:        "secure-cookie",
			Usage:       "Only send the session cookie over HTTPS",
			EnvVars:     []string{"SECRETS_SECURE_COOKIE"},
			Destination: &secureCookie,
		},
		&cli.DurationFlag{
			Name:        "sweep-interval",
			Usage:       "How often expired sessions are removed (0 disables it)",
			Value:       sweepInterval,
			Destination: &sweepInterval,
		},
	}
	flags = append(flags, stores.flags()...)
	flags = append(flags, googleOpts.flags("google")...)
	flags = append(flags, facebookOpts.flags("facebook")...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Start the secrets web server",
		Flags: flags,
		Action: func(cctx *cli.Context) error {
			ctx := logutil.WithLogger(cctx.Context, log.Logger.With().Str("service", "secretsd").Logger())

			cfg, err := sp.ConfigFromEnv()
			if err != nil {
				return err
			}
			b, err := openBackends(ctx, stores)
			if err != nil {
				return err
			}
			defer b.Close()

			auth, err := sp.New(cfg, b.Accounts, b.Sessions)
			if err != nil {
				return err
			}
			web := sp.NewWebAuth(auth)
			web.SecureCookie = secureCookie
			web.AfterLoginURL = afterLoginURL
			router := web.Handler()

			signer := oauth2.NewStateSigner([]byte(stateKey))
			google := oauth2.NewGoogleOAuth2(googleOpts.ClientID, googleOpts.ClientSecret, googleOpts.CallbackURL, web.HandleAssertion)
			facebook := oauth2.NewFacebookOAuth2(facebookOpts.ClientID, facebookOpts.ClientSecret, facebookOpts.CallbackURL, web.HandleAssertion)
			mountProvider(ctx, router, google.BaseOAuth2, signer, failureURL)
			mountProvider(ctx, router, facebook.BaseOAuth2, signer, failureURL)

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return httpserver.Serve(ctx, bindAddr, router)
			})
			if grpcAddr != "" {
				group.Go(func() error {
					return serveGRPC(ctx, grpcAddr, auth)
				})
			}
			if b.Sweep != nil && sweepInterval > 0 {
				group.Go(func() error {
					sweepLoop(ctx, b.Sweep, sweepInterval)
					return nil
				})
			}
			return group.Wait()
		},
	}
}

// mountProvider serves a provider's login legs under /auth/<provider>/.
// Providers without a client id are left out.
func mountProvider(ctx context.Context, router *mux.Router, base *oauth2.BaseOAuth2, signer *oauth2.StateSigner, failureURL string) bool {
	logger := logutil.GetOrDefault(ctx)
	if base.Config().ClientID == "" {
		logger.Info().Str("provider", string(base.Provider)).Msg("provider login disabled, no client id")
		return false
	}
	base.State = signer
	base.FailureURL = failureURL
	prefix := "/auth/" + string(base.Provider)
	router.PathPrefix(prefix + "/").Handler(http.StripPrefix(prefix, base.Handler()))
	logger.Info().Str("provider", string(base.Provider)).Str("prefix", prefix).Msg("provider login enabled")
	return true
}

// serveGRPC exposes the health service behind the session interceptors, so
// services added to the same server inherit the access gate.
func serveGRPC(ctx context.Context, bind string, auth *sp.Authenticator) error {
	lis, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", bind, err)
	}
	interceptors := authgrpc.NewPublicMethodsConfig(auth.Sessions,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	interceptors.Gate = auth.Gate
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(authgrpc.UnaryAuthInterceptor(interceptors)),
		grpc.ChainStreamInterceptor(authgrpc.StreamAuthInterceptor(interceptors)),
	)
	healthpb.RegisterHealthServer(srv, health.NewServer())

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	logger := logutil.GetOrDefault(ctx)
	logger.Info().Str("server.addr", bind).Msg("Starting gRPC server")
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func sweepLoop(ctx context.Context, sweep sweepFunc, every time.Duration) {
	logger := logutil.GetOrDefault(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := sweep(ctx, now)
			if err != nil {
				logger.Warn().Err(err).Msg("session sweep failed")
				continue
			}
			if removed > 0 {
				logger.Info().Int("removed", removed).Msg("swept expired sessions")
			}
		}
	}
}

func sweepCmd() *cli.Command {
	var stores storeOptions
	return &cli.Command{
		Name:  "sweep",
		Usage: "Remove expired sessions once and exit",
		Flags: stores.flags(),
		Action: func(cctx *cli.Context) error {
			ctx := cctx.Context
			b, err := openBackends(ctx, stores)
			if err != nil {
				return err
			}
			defer b.Close()
			if b.Sweep == nil {
				log.Info().Str("backend", stores.Sessions).Msg("backend expires sessions on its own")
				return nil
			}
			removed, err := b.Sweep(ctx, time.Now())
			if err != nil {
				return err
			}
			log.Info().Int("removed", removed).Msg("swept expired sessions")
			return nil
		},
	}
}
