package config

import (
	"flag"
	"os"
	"time"

	"github.com/avolkau/wayfinder-auth/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-i string   JWT issuer
//	-n string   JWT audience
//	-t int      access token validity, minutes
//	-r int      refresh token validity, days
//	-w int      password reset token validity, minutes
//	-b string   public base URL for emailed links
//	-l int      login attempts allowed per minute per email
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration flags
// are accepted as integers and converted to time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-i", "-n", "-t", "-r", "-w", "-b", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.JWTSecret, "s", config.JWTSecret, "JWT secret key")
	fs.StringVar(&config.JWTIssuer, "i", config.JWTIssuer, "JWT issuer")
	fs.StringVar(&config.JWTAudience, "n", config.JWTAudience, "JWT audience")
	fs.StringVar(&config.PublicBaseURL, "b", config.PublicBaseURL, "public base URL for emailed links")
	fs.IntVar(&config.LoginRatePerMinute, "l", config.LoginRatePerMinute, "login attempts per minute per email")

	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidity.Minutes()), "access_token_validity (in minutes)")
	refreshTokenValidity := fs.Int("r", int(config.RefreshTokenValidity.Hours()/24), "refresh_token_validity (in days)")
	resetTokenValidity := fs.Int("w", int(config.ResetTokenValidity.Minutes()), "reset_token_validity (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidity = time.Duration(*accessTokenValidity) * time.Minute
	config.RefreshTokenValidity = time.Duration(*refreshTokenValidity) * 24 * time.Hour
	config.ResetTokenValidity = time.Duration(*resetTokenValidity) * time.Minute
}
