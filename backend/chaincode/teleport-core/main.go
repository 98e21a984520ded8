package main

import (
	"log"

	"github.com/alienbridge/teleport/backend/chaincode/teleport-core/chaincode"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

func main() {
	bridgeChaincode, err := contractapi.NewChaincode(&chaincode.SmartContract{})
	if err != nil {
		log.Panicf("Error creating teleport bridge chaincode: %v", err)
	}

	if err := bridgeChaincode.Start(); err != nil {
		log.Panicf("Error starting teleport bridge chaincode: %v", err)
	}
}
