package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shaunagostinho/bleat/internal/module"
	"github.com/shaunagostinho/bleat/internal/wire"
	"github.com/spf13/cobra"
)

// withRadio opens a session, runs fn against the module and closes it.
func withRadio(cmd *cobra.Command, fn func(r *module.Radio) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s.radio)
}

var atCmd = &cobra.Command{
	Use:   "at <command...>",
	Short: "Send a raw AT command and print the reply body",
	Long: `Sends one command line and prints the module's reply with the trailing OK removed.

Examples:
  bleat at AT+VER?
  bleat at AT+NAME=kitchen --debug`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line := strings.Join(args, " ")
		return withRadio(cmd, func(r *module.Radio) error {
			reply, err := r.Raw(line)
			if err != nil {
				return err
			}
			if reply != "" {
				fmt.Fprintln(cmd.OutOrStdout(), reply)
			}
			return nil
		})
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check the module answers AT with OK",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRadio(cmd, func(r *module.Radio) error {
			if err := r.Test(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		})
	},
}

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show firmware version, address and name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRadio(cmd, func(r *module.Radio) error {
			info, err := r.Info()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if infoJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "Version: %s\nAddress: %s\nName:    %s\n", info.Version, info.Address, info.Name)
			return nil
		})
	},
}

var nameCmd = &cobra.Command{
	Use:   "name [new-name]",
	Short: "Get or set the advertised device name",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRadio(cmd, func(r *module.Radio) error {
			if len(args) == 1 {
				return r.SetName(args[0])
			}
			name, err := r.Name()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		})
	},
}

var rssiCmd = &cobra.Command{
	Use:   "rssi",
	Short: "Show the RSSI of the current link",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRadio(cmd, func(r *module.Radio) error {
			v, err := r.RSSI()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d dBm\n", v)
			return nil
		})
	},
}

var txPowerCmd = &cobra.Command{
	Use:   "txpower [dbm]",
	Short: "Get or set the transmit power",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var dbm int
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid power %q: %w", args[0], err)
			}
			dbm = n
		}
		return withRadio(cmd, func(r *module.Radio) error {
			if len(args) == 1 {
				return r.SetTxPower(dbm)
			}
			v, err := r.TxPower()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d dBm\n", v)
			return nil
		})
	},
}

var advertiseCmd = &cobra.Command{
	Use:       "advertise on|off",
	Short:     "Start or stop advertising",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		return withRadio(cmd, func(r *module.Radio) error { return r.Advertise(on) })
	},
}

var uuidCmd = &cobra.Command{
	Use:   "uuid <hex16>",
	Short: "Set the 16-bit primary service UUID (e.g. 180A)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uuid, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		return withRadio(cmd, func(r *module.Radio) error { return r.SetServiceUUID(uuid) })
	},
}

var beaconCmd = &cobra.Command{
	Use:   "beacon <hex>",
	Short: "Set the raw advertising payload",
	Long: `Sets the advertising payload from hex bytes. Dashes are accepted.

Examples:
  bleat beacon 020106
  bleat beacon 02-01-06-03-03-AA-FE`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := wire.DecodeHex(wire.StripSeparators(args[0]))
		if err != nil {
			return err
		}
		return withRadio(cmd, func(r *module.Radio) error { return r.SetBeacon(data) })
	},
}

var charCmd = &cobra.Command{
	Use:   "char",
	Short: "Read or write characteristic values",
}

var charReadCmd = &cobra.Command{
	Use:   "read <handle>",
	Short: "Read a characteristic value as hex",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		return withRadio(cmd, func(r *module.Radio) error {
			v, err := r.ReadCharacteristic(h)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), wire.EncodeBytes(v))
			return nil
		})
	},
}

var charWriteCmd = &cobra.Command{
	Use:   "write <handle> <hex>",
	Short: "Write a hex value to a characteristic",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		data, err := wire.DecodeHex(wire.StripSeparators(args[1]))
		if err != nil {
			return err
		}
		return withRadio(cmd, func(r *module.Radio) error { return r.WriteCharacteristic(h, data) })
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the module's power-on defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRadio(cmd, func(r *module.Radio) error { return r.Reset() })
	},
}

var hexCmd = &cobra.Command{
	Use:   "hex",
	Short: "Convert between bytes and the module's hex forms (offline)",
}

var hexEncodeCmd = &cobra.Command{
	Use:   "encode <text>",
	Short: "Print text as dash-joined byte hex",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), wire.EncodeBytes([]byte(args[0])))
		return nil
	},
}

var hexDecodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Print unseparated hex as text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := wire.DecodeHex(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%q\n", b)
		return nil
	},
}

var hexShortCmd = &cobra.Command{
	Use:   "short <n>",
	Short: "Print a 16-bit value in 0xHHHH form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("invalid 16-bit value %q: %w", args[0], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), wire.EncodeShort(uint16(n)))
		return nil
	},
}

// parseHandle accepts "2A19", "0x2A19" or "0X2A19".
func parseHandle(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := wire.DecodeHex(s)
	if err != nil {
		return 0, err
	}
	if len(b) != 2 {
		return 0, fmt.Errorf("handle must be 4 hex digits, got %q", s)
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output as JSON")

	charCmd.AddCommand(charReadCmd)
	charCmd.AddCommand(charWriteCmd)

	hexCmd.AddCommand(hexEncodeCmd)
	hexCmd.AddCommand(hexDecodeCmd)
	hexCmd.AddCommand(hexShortCmd)
}
