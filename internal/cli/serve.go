package cli

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-release/internal/adapters/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve pipeline reports and accept manual dispatches over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		controller, cleanup, err := newController(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		app := fiber.New(fiber.Config{DisableStartupMessage: true})
		httpapi.NewHandler(controller).Register(app)

		logrus.WithField("addr", serveAddr).Info("serving pipeline API")
		return app.Listen(serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":3000", "listen address")
	rootCmd.AddCommand(serveCmd)
}
