package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/alienbridge/teleport/backend/pkg/common"
	"github.com/alienbridge/teleport/backend/pkg/common/db"
	"github.com/alienbridge/teleport/backend/pkg/common/migrations"
	"github.com/alienbridge/teleport/backend/pkg/fabricclient"
)

// teleportView mirrors the chaincode's teleport record for event decoding.
type teleportView struct {
	ID         uint64 `json:"id"`
	Time       int64  `json:"time"`
	Account    string `json:"account"`
	Quantity   uint64 `json:"quantity"`
	ChainID    uint32 `json:"chain_id"`
	EthAddress string `json:"eth_address"`
}

func main() {
	cfg := common.LoadConfig()
	if cfg.Oracle.Account == "" {
		log.Fatal("ORACLE_ACCOUNT must be set")
	}

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

	signer, err := NewSigner(cfg.Oracle.SigningKeyPath)
	if err != nil {
		log.Fatalf("Failed to load signing key: %v", err)
	}

	publisher, err := NewPublisher(cfg.Oracle.KafkaBroker, cfg.Oracle.KafkaTopic)
	if err != nil {
		log.Fatalf("Failed to create Kafka producer: %v", err)
	}
	defer publisher.Close()

	daemon := &Daemon{
		oracle:    cfg.Oracle.Account,
		fabric:    fabric,
		store:     NewStore(database),
		signer:    signer,
		watcher:   NewWatcher(cfg.Oracle.EthRPCURL, cfg.Oracle.EthBridge, cfg.Oracle.ChainID, cfg.Oracle.Confirmations),
		publisher: publisher,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go daemon.watchOutbound(ctx)
	go serveHealth(cfg.Port)

	log.Printf("Oracle %s watching chain %d at %s", cfg.Oracle.Account, cfg.Oracle.ChainID, cfg.Oracle.EthRPCURL)
	daemon.runInboundLoop(ctx, cfg.Oracle.PollInterval)
}

func serveHealth(port string) {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Printf("Health endpoint stopped: %v", err)
	}
}

// Daemon ties the two oracle duties together: attesting inbound locks seen
// on the counterpart chain, and signing outbound teleports as they appear.
type Daemon struct {
	oracle    string
	fabric    *fabricclient.Client
	store     *Store
	signer    *Signer
	watcher   *Watcher
	publisher *Publisher
}

func (d *Daemon) runInboundLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down inbound scanner")
			return
		case <-ticker.C:
			if err := d.scanOnce(ctx); err != nil {
				log.Printf("Inbound scan failed: %v", err)
			}
		}
	}
}

func (d *Daemon) scanOnce(ctx context.Context) error {
	from, err := d.store.LastScannedBlock(d.watcher.chainID)
	if err != nil {
		return err
	}

	transfers, claims, scannedTo, err := d.watcher.Poll(ctx, from+1)
	if err != nil {
		return err
	}

	for _, transfer := range transfers {
		if err := d.attest(transfer); err != nil {
			// Leave the checkpoint behind this transfer so it is retried.
			return err
		}
	}
	for _, claim := range claims {
		if err := d.markClaimed(claim); err != nil {
			return err
		}
	}

	if scannedTo > from {
		return d.store.SaveCheckpoint(d.watcher.chainID, scannedTo)
	}
	return nil
}

// markClaimed relays an observed destination-chain release back to the
// ledger. A rejection because another oracle got there first is terminal.
func (d *Daemon) markClaimed(claim OutboundClaim) error {
	_, err := d.fabric.SubmitTransaction("MarkClaimed",
		d.oracle,
		strconv.FormatUint(claim.TeleportID, 10),
		claim.EthAddress,
		strconv.FormatUint(claim.Amount, 10),
	)
	if err != nil {
		if strings.Contains(err.Error(), "already") {
			log.Printf("Teleport %d already marked claimed: %v", claim.TeleportID, err)
			return nil
		}
		return err
	}
	log.Printf("Marked teleport %d claimed", claim.TeleportID)
	return nil
}

func (d *Daemon) attest(transfer InboundTransfer) error {
	done, err := d.store.HasAttested(transfer.Ref)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	_, err = d.fabric.SubmitTransaction("Attest",
		d.oracle,
		transfer.To,
		transfer.Ref,
		strconv.FormatUint(transfer.Amount, 10),
		strconv.FormatUint(uint64(transfer.ChainID), 10),
		"true",
	)
	if err != nil {
		// Another oracle may have completed the receipt already, or this
		// process attested before a crash. Both are terminal for this ref.
		if strings.Contains(err.Error(), "already") {
			log.Printf("Ref %s already handled: %v", transfer.Ref, err)
		} else {
			return err
		}
	}

	if err := d.store.RecordAttestation(transfer.Ref, transfer.To, transfer.Amount, transfer.ChainID); err != nil {
		return err
	}

	d.publisher.Publish(BridgeEvent{
		Kind:    "attested",
		Ref:     transfer.Ref,
		Account: transfer.To,
		Amount:  transfer.Amount,
		ChainID: transfer.ChainID,
	})
	log.Printf("Attested ref %s: %d to %s", transfer.Ref, transfer.Amount, transfer.To)
	return nil
}

func (d *Daemon) watchOutbound(ctx context.Context) {
	events, err := d.fabric.ListenEvents("TeleportRequested")
	if err != nil {
		log.Printf("Failed to register teleport listener: %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down outbound listener")
			return
		case event, ok := <-events:
			if !ok {
				log.Println("Teleport event stream closed")
				return
			}
			var teleport teleportView
			if err := json.Unmarshal(event.Payload, &teleport); err != nil {
				log.Printf("Bad teleport event payload: %v", err)
				continue
			}
			if teleport.ChainID != d.watcher.chainID {
				continue
			}
			if err := d.signTeleport(teleport); err != nil {
				log.Printf("Failed to sign teleport %d: %v", teleport.ID, err)
			}
		}
	}
}

func (d *Daemon) signTeleport(teleport teleportView) error {
	done, err := d.store.HasSigned(teleport.ID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	digest := TeleportDigest(teleport.ID, teleport.Time, teleport.Account,
		teleport.Quantity, teleport.ChainID, teleport.EthAddress)
	signature, err := d.signer.Sign(digest)
	if err != nil {
		return err
	}

	_, err = d.fabric.SubmitTransaction("SignTeleport",
		d.oracle,
		strconv.FormatUint(teleport.ID, 10),
		signature,
	)
	if err != nil {
		if strings.Contains(err.Error(), "already") {
			log.Printf("Teleport %d already signed: %v", teleport.ID, err)
		} else {
			return err
		}
	}

	if err := d.store.RecordSignature(teleport.ID, signature); err != nil {
		return err
	}

	d.publisher.Publish(BridgeEvent{
		Kind:    "signed",
		ID:      teleport.ID,
		Account: teleport.Account,
		Amount:  teleport.Quantity,
		ChainID: teleport.ChainID,
	})
	log.Printf("Signed teleport %d for %s", teleport.ID, teleport.Account)
	return nil
}
