package cmd

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kgiusti/tokencore/internal/apdu"
	"github.com/kgiusti/tokencore/internal/applet/fido"
	"github.com/kgiusti/tokencore/internal/applet/piv"
	"github.com/kgiusti/tokencore/internal/cryptoservice"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Force first-boot provisioning of the FIDO and PIV applets' persistent state",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		serveConfig = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := serveConfig.Store.OpenStore()
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

		// PIV's Select triggers its ensureState(), which provisions
		// the Yubico well-known PIV defaults the first time it runs
		// against a fresh store; FIDO's Select does no provisioning
		// of its own. ensureState's
		// cryptoservice calls are synchronous from the applet's side
		// (internal/applet.Pending.Call), so this goroutine needs to
		// keep draining them while Select blocks.
		done := make(chan struct{})
		defer close(done)
		go func() {
			for {
				select {
				case <-done:
					return
				default:
					svc.Pump()
					time.Sleep(time.Millisecond)
				}
			}
		}()

		if _, status := pivApplet.Select(apdu.CommandAPDU{Instruction: 0xA4}); status != apdu.StatusSuccess {
			return fmt.Errorf("piv provisioning failed: status 0x%04x", uint16(status))
		}
		pivApplet.Deselect()
		if _, status := fidoApplet.Select(apdu.CommandAPDU{Instruction: 0xA4}); status != apdu.StatusSuccess {
			return fmt.Errorf("fido provisioning failed: status 0x%04x", uint16(status))
		}
		fidoApplet.Deselect()

		fmt.Println("piv: provisioned with Yubico default management key, PIN 123456, PUK 12345678")
		fmt.Println("fido: resident-credential store ready")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)
}
