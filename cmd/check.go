package cmd

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"

	"mixfm/cache"
	"mixfm/config"
	"mixfm/db"
	"mixfm/storage"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check connectivity to every external dependency",
	Long:  `Verifies that ffmpeg, ffprobe, MySQL, Redis and MinIO are reachable with the current configuration.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		failed := false

		for _, bin := range []string{cfg.FFmpegPath, cfg.FFprobePath} {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := exec.CommandContext(ctx, bin, "-version").Run()
			cancel()
			if err != nil {
				fmt.Printf("FAIL %s: %v\n", bin, err)
				failed = true
			} else {
				fmt.Printf("ok   %s\n", bin)
			}
		}

		if err := db.ConnectDB(cfg); err != nil {
			fmt.Printf("FAIL mysql %s:%s: %v\n", cfg.DBHost, cfg.DBPort, err)
			failed = true
		} else {
			fmt.Printf("ok   mysql %s:%s\n", cfg.DBHost, cfg.DBPort)
			db.DB.Close()
		}

		if err := cache.ConnectRedis(cfg); err != nil {
			fmt.Printf("FAIL redis %s:%s: %v\n", cfg.RedisHost, cfg.RedisPort, err)
			failed = true
		} else {
			fmt.Printf("ok   redis %s:%s\n", cfg.RedisHost, cfg.RedisPort)
			cache.CloseRedis()
		}

		if err := storage.InitMinio(cfg); err != nil {
			fmt.Printf("FAIL minio %s: %v\n", cfg.MinioEndpoint, err)
			failed = true
		} else {
			fmt.Printf("ok   minio %s\n", cfg.MinioEndpoint)
		}

		if failed {
			log.Fatal("one or more dependency checks failed")
		}
		fmt.Println("all checks passed")
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
