package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"api_negotiations/api"
)

func main() {
	r := gin.Default()
	api.InitRoutes(r)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	if err := r.Run(addr); err != nil {
		panic(fmt.Errorf("error trying to start server: %v", err))
	}
}
