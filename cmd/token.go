package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aoi-sim/aoi-sim/sim/gateway"
)

var (
	tokenSecret  string        // HS256 secret shared with the gateway
	tokenSubject string        // Agent identity
	tokenTTL     time.Duration // Token lifetime
)

// tokenCmd prints a bearer token for the gateway
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a remote agent",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		token, err := gateway.IssueToken([]byte(tokenSecret), tokenSubject, tokenTTL)
		if err != nil {
			logrus.Fatalf("issuing token: %v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", os.Getenv("AOI_SIM_JWT_SECRET"), "Secret the gateway verifies tokens with")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "agent", "Agent identity recorded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")

	rootCmd.AddCommand(tokenCmd)
}
