package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/gatewaykit/gatewaylib/config"
	"github.com/gatewaykit/gatewaylib/connection/closecode"
	"github.com/gatewaykit/gatewaylib/connection/gateway"
	"github.com/gatewaykit/gatewaylib/connection/httpclient"
	"github.com/gatewaykit/gatewaylib/logger"
)

var (
	configPath, address, discoverUrl string
	send, logLevel, logFile          string
	noCompress, lenient, save        bool
)

func main() {
	parseFlags()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("ERROR: %s\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LoggerConfig(os.Stderr))
	if err != nil {
		fmt.Printf("ERROR: failed to create logger: %s\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if discoverUrl != "" {
		if cfg.Gateway.Address, err = discover(ctx, log, cfg); err != nil {
			log.Error(err)
			os.Exit(1)
		}
	}

	if save && configPath != "" {
		if err := config.Save(configPath, cfg); err != nil {
			log.Error(err)
			os.Exit(1)
		}
	}

	if exitErr := run(ctx, log, cfg); exitErr != nil {
		log.Error(exitErr)
		os.Exit(1)
	}
}

func parseFlags() {
	flag.StringVar(&configPath, "config", "", "Path to a yaml config file")
	flag.StringVar(&address, "address", "", "Gateway address to connect to, overrides the config")
	flag.StringVar(&discoverUrl, "discover", "", "HTTP endpoint that answers with the gateway address as {\"url\": ...}")
	flag.StringVar(&send, "send", "", "Text frame to send once connected")
	flag.StringVar(&logLevel, "logLevel", "", "The log level to use -- must be one of 'trace', 'debug', 'info', 'warn', 'error', 'disabled'")
	flag.StringVar(&logFile, "logFile", "", "Also log to this rotated file")
	flag.BoolVar(&noCompress, "noCompress", false, "Do not inflate binary messages")
	flag.BoolVar(&lenient, "lenient", false, "Hand over raw bytes when a binary message fails to inflate")
	flag.BoolVar(&save, "save", false, "Write the effective config back to -config")

	flag.Parse()
}

// Flags only take effect when given, otherwise the file and environment decide
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "address":
			cfg.Gateway.Address = address
		case "logLevel":
			cfg.Log.Level = logLevel
		case "logFile":
			cfg.Log.FilePath = logFile
		case "noCompress":
			cfg.Gateway.Compress = !noCompress
		case "lenient":
			cfg.Gateway.LenientDecompression = lenient
		}
	})

	if cfg.Gateway.Address == "" && discoverUrl == "" {
		return nil, fmt.Errorf("no gateway address given, use -address, -discover or %s", config.EnvAddress)
	}

	return cfg, nil
}

func discover(ctx context.Context, log *logger.Logger, cfg *config.Config) (string, error) {
	client := httpclient.New(log.GetComponentLogger("discovery"), cfg.HttpOptions())

	response, err := client.Execute(ctx, httpclient.Request{
		URL:    discoverUrl,
		Method: http.MethodGet,
	})
	if err != nil {
		return "", fmt.Errorf("failed to discover gateway: %w", err)
	} else if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway discovery answered with status %d", response.StatusCode)
	}

	var body struct {
		Url string `json:"url"`
	}
	if err := json.Unmarshal(response.Body, &body); err != nil {
		return "", fmt.Errorf("malformed discovery response: %w", err)
	} else if body.Url == "" {
		return "", fmt.Errorf("discovery response did not include a url")
	}

	log.Infof("Discovered gateway at %s", body.Url)
	return body.Url, nil
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config) error {
	conn, err := gateway.Connect(ctx, log, cfg.GatewayOptions())
	if err != nil {
		return err
	}

	receiver := gateway.NewReceiver(log, conn)

	if send != "" {
		if err := conn.Outbound().Write(gateway.TextFrame{Text: send}); err != nil {
			return err
		}
	}

	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			interrupted = nil
			log.Info("Interrupted, closing the connection")
			if err := conn.Outbound().Close(closecode.NormalClosure, ""); err != nil {
				log.Error(err)
			}
		case message, ok := <-receiver.Inbound():
			if !ok {
				if frame, ok := conn.CloseFrame(); ok {
					fmt.Printf("closed: %s\n", frame)
				}
				return receiver.Err()
			}
			printMessage(message)
		}
	}
}

func printMessage(message gateway.Message) {
	switch m := message.(type) {
	case gateway.TextMessage:
		fmt.Println(m.Text)
	case gateway.BinaryMessage:
		if m.Inflated {
			fmt.Println(string(m.Data))
		} else {
			fmt.Printf("<%d binary bytes>\n", len(m.Data))
		}
	}
}
