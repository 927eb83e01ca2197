// Command configgen writes or validates injectctl config files.
package main

import (
	"flag"
	"os"

	"github.com/danmuck/injectctl/internal/config"
	"github.com/danmuck/injectctl/internal/logging"
	"github.com/rs/zerolog/log"
)

const defaultPath = "cmd/injectctl/config.toml"

func main() {
	logging.ConfigureRuntime()

	kind := flag.String("kind", config.KindInjectctl, "config kind: injectctl")
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if err := run(*kind, *output, *input, *validate, *force); err != nil {
		log.Error().Err(err).Msg("configgen failed")
		os.Exit(1)
	}
}

func run(kind, output, input string, validate, force bool) error {
	if validate {
		if _, err := config.LoadRun(input); err != nil {
			return err
		}
		log.Info().Str("kind", kind).Str("path", input).Msg("configgen validated")
		return nil
	}

	if err := config.WriteTemplate(output, kind, force); err != nil {
		return err
	}
	log.Info().Str("kind", kind).Str("path", output).Msg("configgen wrote template")
	return nil
}
