package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"soundroom/config"
	"soundroom/storage"
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Check the object storage connection",
	Long:  `Connect to MinIO with the configured credentials and run an upload/download round trip against the artwork bucket.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		fmt.Printf("minio target: %s bucket %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.NewArtworkStore(cfg)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		const objectName = "check/connection.txt"
		body := "connection check " + time.Now().Format(time.RFC3339)
		if err := store.Put(ctx, objectName, strings.NewReader(body), int64(len(body)), "text/plain"); err != nil {
			log.Fatalf("minio upload failed: %v", err)
		}
		if !store.Exists(ctx, objectName) {
			log.Fatalf("minio object missing after upload")
		}

		fmt.Println("minio connection ok")
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)
}
