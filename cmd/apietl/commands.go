package main

// setupCommands initializes all commands and their relationships
func setupCommands() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(scrapCmd)
	rootCmd.AddCommand(bronzeCmd)
	rootCmd.AddCommand(detailsCmd)
}
