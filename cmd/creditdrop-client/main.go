// Command creditdrop-client uploads one file (or stdin) to a
// creditdrop-server instance. It ports dync/client.py's arg_parser and
// parse_args onto a cobra command tree, following the corpus's CLI
// idiom (_examples/tonimelisma-onedrive-go/root.go).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/creditdrop/creditdrop/internal/uploadclient"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		metaPath   string
		name       string
		keyValues  []string
		tokenValue string
	)

	cmd := &cobra.Command{
		Use:           "creditdrop-client <server> [file]",
		Short:         "Upload a file to a creditdrop coordinator",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			server := args[0]
			filePath := "-"
			if len(args) == 2 {
				filePath = args[1]
			}
			return runUpload(cmd.Context(), server, filePath, name, tokenValue, metaPath, keyValues)
		},
	}

	cmd.Flags().StringVarP(&metaPath, "meta", "m", "", "path to a JSON file containing metadata")
	cmd.Flags().StringVarP(&name, "name", "n", "", "overwrite destination file name")
	cmd.Flags().StringArrayVarP(&keyValues, "key-value", "k", nil, "colon separated key:value pair, overrides metadata")
	cmd.Flags().StringVar(&tokenValue, "token", os.Getenv("CREDITDROP_TOKEN"), "shared-secret auth token (default from CREDITDROP_TOKEN)")

	return cmd
}

func runUpload(ctx context.Context, server, filePath, name, token, metaPath string, keyValues []string) error {
	meta, err := buildMeta(metaPath, keyValues)
	if err != nil {
		return err
	}

	if name == "" {
		if filePath == "-" {
			return fmt.Errorf("filename not known: set it explicitly with --name when reading from stdin")
		}
		name = filePath
	}

	var source *os.File
	if filePath == "-" {
		source = os.Stdin
	} else {
		f, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("open input file: %w", err)
		}
		defer f.Close()
		source = f
	}

	if token == "" {
		return fmt.Errorf("no auth token provided: pass --token or set CREDITDROP_TOKEN")
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	uploadID, err := uploadclient.Upload(runCtx, uploadclient.Options{
		Address: server,
		Token:   token,
		Name:    name,
		Meta:    meta,
	}, source, log)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	fmt.Println(uploadID)
	return nil
}

func buildMeta(metaPath string, keyValues []string) (map[string]any, error) {
	meta := map[string]any{}
	if metaPath != "" {
		data, err := os.ReadFile(metaPath)
		if err != nil {
			return nil, fmt.Errorf("read metadata file: %w", err)
		}
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("invalid json in metadata file: %w", err)
		}
	}
	for _, kv := range keyValues {
		key, value, ok := strings.Cut(kv, ":")
		if !ok {
			return nil, fmt.Errorf("invalid key-value pair %q: must be separated by ':'", kv)
		}
		meta[key] = value
	}
	return meta, nil
}
