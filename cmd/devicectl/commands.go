package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/danmuck/injectctl/internal/config"
	"github.com/danmuck/injectctl/internal/device"
	"github.com/danmuck/injectctl/internal/device/local"
	"github.com/danmuck/injectctl/internal/symbols"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	defaultFileEntry = "injected_function"
	defaultFileData  = "w00t"
)

type deviceFactory func(cfg local.Config) device.Device

// session holds the manager shared by one command invocation.
type session struct {
	newDevice deviceFactory
	mgr       *device.Manager
}

func (s *session) open() error {
	cfg, err := config.Resolve()
	if err != nil {
		return err
	}
	devs, err := cfg.Devices(s.newDevice)
	if err != nil {
		return err
	}
	s.mgr = device.NewManager()
	for _, dev := range devs {
		if err := s.mgr.Register(dev); err != nil {
			return err
		}
	}
	return nil
}

// pick returns the device named id, or the local device when id is empty.
func (s *session) pick(id string) (device.Device, error) {
	if id = strings.TrimSpace(id); id != "" {
		return s.mgr.Device(id)
	}
	return s.mgr.LocalDevice()
}

func (s *session) close() {
	if s.mgr == nil {
		return
	}
	if err := s.mgr.Close(); err != nil {
		log.Warn().Err(err).Msg("devicectl close devices")
	}
	s.mgr = nil
}

func newRootCommand(newDevice deviceFactory) *cobra.Command {
	s := &session{newDevice: newDevice}

	root := &cobra.Command{
		Use:           "devicectl",
		Short:         "Inspect devices and inject libraries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	withDevices := func(cmd *cobra.Command) *cobra.Command {
		cmd.PreRunE = func(*cobra.Command, []string) error { return s.open() }
		return cmd
	}

	root.AddCommand(
		withDevices(newDevicesCommand(s)),
		withDevices(newPsCommand(s)),
		newExportsCommand(),
		withDevices(newInjectFileCommand(s)),
	)
	return root
}

func newDevicesCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List registered devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer s.close()
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tNAME\tKIND")
			for _, dev := range s.mgr.Devices() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", dev.ID(), dev.Name(), dev.Kind())
			}
			return w.Flush()
		},
	}
}

func newPsCommand(s *session) *cobra.Command {
	var deviceID string
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List processes on a device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer s.close()
			dev, err := s.pick(deviceID)
			if err != nil {
				return err
			}
			procs, err := dev.EnumerateProcesses(cmd.Context())
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "PID\tNAME")
			for _, p := range procs {
				fmt.Fprintf(w, "%d\t%s\n", p.PID, p.Name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device id, defaults to the local device")
	return cmd
}

func newExportsCommand() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "exports <path>",
		Short: "List symbols exported by an object file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := symbols.ReadSymbols(args[0])
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			for _, name := range table.Names(prefix) {
				fmt.Fprintf(w, "0x%x\t%s\n", table[name], name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only list names with this prefix")
	return cmd
}

func newInjectFileCommand(s *session) *cobra.Command {
	var entry, data, deviceID string
	cmd := &cobra.Command{
		Use:   "inject-file <pid> <path>",
		Short: "Inject a library already present on disk",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer s.close()
			pid, err := device.ParsePID(args[0])
			if err != nil {
				return err
			}
			dev, err := s.pick(deviceID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[*] Device name: %s\n", dev.Name())
			id, err := dev.InjectLibraryFile(cmd.Context(), pid, args[1], strings.TrimSpace(entry), data)
			if err != nil {
				return fmt.Errorf("inject pid=%d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "*** Injected, id=%d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&entry, "entry", defaultFileEntry, "entry symbol called after load")
	cmd.Flags().StringVar(&data, "data", defaultFileData, "init token passed to the entry symbol")
	cmd.Flags().StringVar(&deviceID, "device", "", "device id, defaults to the local device")
	return cmd
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}
