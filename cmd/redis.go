package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"soundroom/config"
	"soundroom/db"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check the redis connection",
	Long:  `Connect to redis with the configured credentials and run a set/get/del round trip.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		fmt.Printf("redis target: %s:%s db %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := db.ConnectRedis(cfg)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer db.CloseRedis(client)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		const key = "soundroom:connection_check"
		if err := client.Set(ctx, key, "ok", time.Minute).Err(); err != nil {
			log.Fatalf("redis set failed: %v", err)
		}
		val, err := client.Get(ctx, key).Result()
		if err != nil {
			log.Fatalf("redis get failed: %v", err)
		}
		if val != "ok" {
			log.Fatalf("redis returned unexpected value: %q", val)
		}
		if err := client.Del(ctx, key).Err(); err != nil {
			log.Fatalf("redis del failed: %v", err)
		}

		fmt.Println("redis connection ok")
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
