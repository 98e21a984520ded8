package main

import (
	"log"
	"net/http"

	"github.com/alienbridge/teleport/backend/pkg/common"
	"github.com/alienbridge/teleport/backend/pkg/common/db"
	"github.com/alienbridge/teleport/backend/pkg/common/migrations"
	"github.com/alienbridge/teleport/backend/pkg/fabricclient"
	"github.com/hyperledger/fabric-sdk-go/pkg/common/providers/fab"
)

func main() {
	cfg := common.LoadConfig()

	database, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := migrations.RunMigrations(database, "migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	fabric, err := fabricclient.NewClient(cfg.FabricConfig, cfg.Channel, cfg.Chaincode, cfg.MSP, cfg.CertPath, cfg.KeyPath)
	if err != nil {
		log.Fatalf("Failed to connect to Fabric: %v", err)
	}
	defer fabric.Close()

	hub := NewHub()
	go hub.Run()
	go relayBridgeEvents(fabric, hub)

	server := NewServer(fabric, database, []byte(cfg.JWTSecret), hub)

	log.Printf("Bridge API listening on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, server.Router()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// relayBridgeEvents forwards chaincode events into the websocket hub so UI
// clients see bridge activity without polling.
func relayBridgeEvents(fabric *fabricclient.Client, hub *Hub) {
	for _, name := range []string{"TeleportRequested", "TeleportCancelled", "ReceiptCompleted"} {
		events, err := fabric.ListenEvents(name)
		if err != nil {
			log.Printf("Failed to listen for %s events: %v", name, err)
			continue
		}
		go func(name string, events <-chan *fab.CCEvent) {
			for event := range events {
				hub.Broadcast(name, event.Payload)
			}
		}(name, events)
	}
}
