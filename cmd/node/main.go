// Command node runs a Pantheon arena node: block production, P2P sync, the
// JSON-RPC API with its event stream, and scheduled maintenance.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tolelom/pantheon/config"
	"github.com/tolelom/pantheon/consensus"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/crypto"
	"github.com/tolelom/pantheon/crypto/certgen"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/indexer"
	"github.com/tolelom/pantheon/jobs"
	"github.com/tolelom/pantheon/logging"
	"github.com/tolelom/pantheon/network"
	"github.com/tolelom/pantheon/rpc"
	"github.com/tolelom/pantheon/storage"
	"github.com/tolelom/pantheon/units"
	"github.com/tolelom/pantheon/vm"
	"github.com/tolelom/pantheon/vm/modules"
	"github.com/tolelom/pantheon/wallet"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "issue a node TLS cert (creating the CA if absent) into the given directory and exit")
	flag.Parse()

	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	if err := run(*cfgPath, *keyPath, *genKey, *genCerts); err != nil {
		fmt.Fprintln(os.Stderr, "node:", err)
		os.Exit(1)
	}
}

func run(cfgPath, keyPath string, genKey bool, genCerts string) error {
	// The keystore password only comes from the environment; flags show up in ps.
	password := os.Getenv(config.EnvPrefix + "PASSWORD")

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if password == "" && genCerts == "" {
		return errors.New(config.EnvPrefix + "PASSWORD must be set to open the keystore")
	}

	// ---- generate key mode ----
	if genKey {
		w, err := wallet.Generate()
		if err != nil {
			return err
		}
		if err := wallet.SaveKey(keyPath, password, w.PrivKey()); err != nil {
			return err
		}
		fmt.Printf("Generated key. Public key (validator address): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", keyPath)
		return nil
	}

	// ---- generate certs mode ----
	if genCerts != "" {
		paths, err := certgen.Issue(genCerts, cfg.NodeID, nil)
		if err != nil {
			return fmt.Errorf("gencerts: %w", err)
		}
		fmt.Printf("Certificates for node %q issued in %s\n", cfg.NodeID, genCerts)
		fmt.Printf("  tls.ca_cert:   %s\n  tls.node_cert: %s\n  tls.node_key:  %s\n",
			paths.CACert, paths.NodeCert, paths.NodeKey)
		return nil
	}

	addr, err := wallet.KeyAddress(keyPath)
	if err != nil {
		return fmt.Errorf("read keystore: %w", err)
	}
	log.Info("unlocking validator key", zap.String("validator", addr))
	privKey, err := wallet.LoadKey(keyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	devDefaults(cfg, privKey.Public(), log)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return runNode(cfg, privKey, log)
}

func runNode(cfg *config.Config, privKey crypto.PrivateKey, log *zap.Logger) error {
	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.Open(cfg.StorageBackend, filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}

	// ---- genesis block (if fresh chain) ----
	if bc.Tip() == nil {
		genesisBlock, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesisBlock); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		log.Info("genesis block committed", zap.String("hash", genesisBlock.Hash))
	}

	rules := cfg.Genesis.Rules
	emitter := events.NewEmitter(log.Named("events"))
	idx := indexer.New(db, emitter, log.Named("indexer"))
	mempool := core.NewMempool()
	exec := vm.NewExecutor(state, emitter, modules.NewRegistry(), rules, cfg.Genesis.ChainID)
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, privKey, log.Named("consensus"))

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(&cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		log.Info("mTLS enabled for P2P")
	}

	// ---- network ----
	netLog := log.Named("network")
	self := network.Identity{NodeID: cfg.NodeID, ChainID: cfg.Genesis.ChainID, GenesisID: config.GenesisID(cfg)}
	node := network.NewNode(self, fmt.Sprintf(":%d", cfg.P2PPort), mempool, tlsCfg, netLog)
	// Block sync starts per peer once hellos have been exchanged.
	network.NewSyncer(node, bc, poa, netLog)
	if err := node.Start(); err != nil {
		return fmt.Errorf("p2p start: %w", err)
	}
	defer node.Stop()
	poa.OnCommit(node.BroadcastBlock)
	netLog.Info("listening", zap.String("addr", node.Addr()))

	for _, addr := range cfg.SeedPeers {
		if _, err := node.AddPeer(addr, addr); err != nil {
			netLog.Warn("seed peer", zap.String("addr", addr), zap.Error(err))
			continue
		}
		netLog.Info("connected to seed peer", zap.String("addr", addr))
	}

	// ---- RPC ----
	hub := rpc.NewHub(emitter, log)
	defer hub.Close()
	handler := rpc.NewHandler(bc, mempool, state, idx, rules, cfg.Genesis.ChainID)
	handler.OnAccepted(node.BroadcastTx)
	rpcServer := rpc.NewServer(fmt.Sprintf(":%d", cfg.RPCPort), handler, hub, cfg.RPCAuthToken, log)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	if cfg.RPCAuthToken != "" {
		log.Info("RPC bearer token authentication enabled")
	}

	// ---- maintenance ----
	maint := jobs.New(mempool, state, idx, rules, bc.Time, log)
	if err := maint.Start(cfg.MaintenanceInterval.Duration()); err != nil {
		_ = rpcServer.Stop()
		return err
	}

	log.Info("node running",
		zap.String("validator", privKey.Public().Hex()),
		zap.String("chain_id", cfg.Genesis.ChainID),
		zap.Int64("height", bc.Height()),
		zap.String("acquire_price", units.Format(rules.AcquirePrice)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poa.Run(ctx, cfg.BlockInterval.Duration())
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		// Consensus stops on the same ctx; drain the outer surfaces.
		return errors.Join(maint.Shutdown(), rpcServer.Stop())
	})
	err = g.Wait()
	// Deferred calls run in LIFO: hub.Close → node.Stop → db.Close
	log.Info("shutdown complete")
	return err
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = config.DefaultConfig()
	case err != nil:
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// devDefaults fills the settings a single-node development chain needs when
// the config leaves them empty: this validator proposes, and collects fees
// as treasury and admin.
func devDefaults(cfg *config.Config, pub crypto.PublicKey, log *zap.Logger) {
	if len(cfg.Validators) == 0 {
		cfg.Validators = []string{pub.Hex()}
		log.Warn("no validators configured, running as sole validator")
	}
	rules := &cfg.Genesis.Rules
	if rules.Treasury == "" {
		rules.Treasury = pub.Hex()
		log.Warn("genesis.rules.treasury not set, using validator key")
	}
	if rules.Admin == "" {
		rules.Admin = pub.Hex()
		log.Warn("genesis.rules.admin not set, using validator key")
	}
}
