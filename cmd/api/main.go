package main

import (
	"log"
	"net/http"

	"pathflow/internal/api"
	"pathflow/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	h := api.NewServer(cfg)
	log.Printf("pathflow api listening on %s encoder=%s dim=%d", cfg.APIAddr, cfg.EncoderName, cfg.EmbedDim)
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal(err)
	}
}
