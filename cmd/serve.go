package cmd

import (
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kgiusti/tokencore/internal/apdu"
	"github.com/kgiusti/tokencore/internal/applet/fido"
	"github.com/kgiusti/tokencore/internal/applet/piv"
	"github.com/kgiusti/tokencore/internal/catalog"
	"github.com/kgiusti/tokencore/internal/config"
	"github.com/kgiusti/tokencore/internal/ctaphid"
	"github.com/kgiusti/tokencore/internal/cryptoservice"
	"github.com/kgiusti/tokencore/internal/pump"
	"github.com/kgiusti/tokencore/internal/transport"
)

// hidCapabilities is the CTAPHID_INIT capability byte this device
// advertises: CBOR support, no vendor wink LED on the development
// harness.
const hidCapabilities = ctaphid.CapCBOR

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the token's FIDO2/U2F and PIV personalities over the development harness",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		serveConfig = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, serveConfig)
	},
}

var serveConfig *config.Config

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	store, err := cfg.Store.OpenStore()
	if err != nil {
		return err
	}

	svc := cryptoservice.New(store, rand.Reader)

	fidoEp, err := svc.Register(fido.ClientID)
	if err != nil {
		return err
	}
	pivEp, err := svc.Register(piv.ClientID)
	if err != nil {
		return err
	}

	fidoApplet := fido.New(fidoEp)
	pivApplet := piv.New(pivEp)

	dispatcher, err := apdu.NewDispatcher()
	if err != nil {
		return err
	}
	dispatcher.Register(fidoApplet)
	dispatcher.Register(pivApplet)

	var audit *catalog.Catalog
	if cfg.Store.AuditDBPath != "" {
		audit, err = catalog.Open(cfg.Store.AuditDBPath)
		if err != nil {
			return err
		}
	}
	dispatcher.SetSelectObserver(func(aid apdu.AID) {
		if audit != nil {
			_ = audit.Record("dispatcher", "select", fmt.Sprintf("% X", []byte(aid)))
		}
	})

	pipe := ctaphid.NewPipe(hidCapabilities)

	reports := make(chan []byte, 32)
	handler, sendFn := transport.NewHandler(dispatcher.ContactRequester(), dispatcher.ContactlessRequester(), reports)

	p := pump.New(svc, dispatcher, pipe, reports, sendFn)
	p.RegisterHID(fidoApplet)
	p.Catalog = audit

	go p.Run(cmd.Context())

	slog.Info("serving", "addr", cfg.HTTP.ListenAddress())
	srv := transport.NewServer(cfg.HTTP.ListenAddress(), handler.RegisterRoutes(nil))
	return srv.Start()
}
