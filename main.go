package main

// Basic application info.
const (
	serviceName        = "wifi-ncm-bridge"
	serviceDisplayName = "WiFi NCM Bridge"
	serviceVendor      = "com.mrgeckosmedia"
	serviceDescription = "Bridge a WiFi station to a USB NCM host link"
	serviceVersion     = "0.1.0"
	defaultConfigFile  = "config.yaml"
)

// The application start.
func main() {
	// Parse the flags.
	ctx := ParseFlags()

	// Configure logging.
	flags.Log.Apply()

	// Run the command and exit.
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
