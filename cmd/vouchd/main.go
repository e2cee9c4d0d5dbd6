package main

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"

	"github.com/ghodss/yaml"
	"github.com/gorilla/handlers"
	"github.com/gorilla/sessions"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vouch-auth/vouch"
	"github.com/vouch-auth/vouch/rpserver"
	"github.com/vouch-auth/vouch/store/bolt"
	"github.com/vouch-auth/vouch/store/memory"
	storesql "github.com/vouch-auth/vouch/store/sql"
)

const (
	sessionAuthenticationKeyBytesLength = 64
	sessionEncryptionKeyBytesLength     = 32
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(1)
	}
}

var cmd = cobra.Command{
	Use:   "vouchd",
	Short: "WebAuthn relying party server",
	RunE:  run,
}

var ( // flags
	addr                     string
	configPath               string
	sessionAuthenticationKey string
	sessionEncryptionKey     string
)

func init() {
	cmd.Flags().StringVar(&addr, "addr", "localhost:8448", "Address to listen on")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	cmd.Flags().StringVar(&sessionAuthenticationKey, "session-auth-key", mustGenRandB64(64), "Session authentication key, 64-byte, base64-encoded")
	cmd.Flags().StringVar(&sessionEncryptionKey, "session-encrypt-key", mustGenRandB64(32), "Session encryption key, 32-byte, base64-encoded")
}

//config is the YAML configuration file layout
type config struct {
	RP struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Origin string `json:"origin"`
	} `json:"rp"`
	Store struct {
		Backend string `json:"backend"` //memory, bolt or sql
		Path    string `json:"path"`    //bolt database file
		DSN     string `json:"dsn"`     //postgres connection string
	} `json:"store"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	cfg.RP.ID = "localhost"
	cfg.RP.Name = "vouch"
	cfg.RP.Origin = "http://localhost:8448"
	cfg.Store.Backend = "memory"

	if path == "" {
		return cfg, nil
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	return cfg, nil
}

func openStore(cfg *config) (vouch.CredentialStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memory.New(), nil
	case "bolt":
		if cfg.Store.Path == "" {
			return nil, errors.New("bolt backend requires store.path")
		}
		return bolt.New(cfg.Store.Path, 0o600)
	case "sql":
		if cfg.Store.DSN == "" {
			return nil, errors.New("sql backend requires store.dsn")
		}
		db, err := sql.Open("postgres", cfg.Store.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "opening postgres connection")
		}
		return storesql.New(db)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func run(cmd *cobra.Command, args []string) error {
	logger := logrus.New()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	authKey, err := base64.StdEncoding.DecodeString(sessionAuthenticationKey)
	if err != nil {
		return errors.Wrap(err, "failed to base64 decode session-auth-key")
	} else if len(authKey) != sessionAuthenticationKeyBytesLength {
		return fmt.Errorf("session-auth-key must be %d bytes of random data", sessionAuthenticationKeyBytesLength)
	}

	encKey, err := base64.StdEncoding.DecodeString(sessionEncryptionKey)
	if err != nil {
		return errors.Wrap(err, "failed to base64 decode session-encrypt-key")
	} else if len(encKey) != sessionEncryptionKeyBytesLength {
		return fmt.Errorf("session-encrypt-key must be %d bytes of random data", sessionEncryptionKeyBytesLength)
	}

	credStore, err := openStore(cfg)
	if err != nil {
		return errors.Wrap(err, "opening credential store")
	}

	session := sessions.NewCookieStore(authKey, encKey)

	rp := rpserver.RelyingParty{
		ID:     cfg.RP.ID,
		Name:   cfg.RP.Name,
		Origin: cfg.RP.Origin,
	}
	app := rpserver.NewApp(logger, rp, credStore, session)

	logger.WithField("addr", addr).WithField("rpId", rp.ID).Info("starting server")
	srv := &http.Server{
		Addr:    addr,
		Handler: handlers.LoggingHandler(logger.Writer(), app),
	}
	return srv.ListenAndServe()
}

func mustGenRandB64(len int) string {
	b := make([]byte, len)
	_, err := rand.Read(b)
	if err != nil {
		log.Fatalf("Error fetching %d random bytes [%+v]", len, err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
