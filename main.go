package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/km-arc/go-microkernel/framework/app"
	"github.com/km-arc/go-microkernel/framework/kernel"
)

// ── demo components ──────────────────────────────────────────────────────────

// Conn is a pooled connection.
type Conn struct{ id int64 }

var connSeq atomic.Int64

func (c *Conn) Close() error { return nil }

// Notifier posts order events to a webhook.
type Notifier struct {
	Endpoint *url.URL
	Retries  int
}

// Orders depends on a connection pool and the notifier.
type Orders struct {
	conns    *kernel.Kernel
	notifier *Notifier
	log      *zap.Logger
}

// Initialize runs once the instance is built.
func (o *Orders) Initialize() error {
	o.log.Info("orders ready", zap.String("webhook", o.notifier.Endpoint.String()))
	return nil
}

// Place borrows a connection for the duration of one order.
func (o *Orders) Place(ctx context.Context, sku string) error {
	c, err := kernel.Resolve[*Conn](o.conns, "conn", kernel.WithContext(ctx))
	if err != nil {
		return err
	}
	defer func() { _ = o.conns.Release(c) }()
	o.log.Info("order placed", zap.String("sku", sku), zap.Int64("conn", c.id))
	return nil
}

// OrdersInstaller registers the demo components.
type OrdersInstaller struct{ kernel.BaseInstaller }

func (OrdersInstaller) Install(k *kernel.Kernel) error {
	if _, err := kernel.Component("conn").
		ImplementedBy(kernel.Construct(func(*kernel.Activation) (*Conn, error) {
			return &Conn{id: connSeq.Add(1)}, nil
		})).
		LifestylePooled(1, 4).
		Register(k); err != nil {
		return err
	}

	if _, err := kernel.Component("notifier").
		ImplementedBy(kernel.Construct(func(a *kernel.Activation) (*Notifier, error) {
			endpoint, err := kernel.Arg[*url.URL](a, "endpoint")
			if err != nil {
				return nil, err
			}
			retries, err := kernel.Arg[int](a, "retries")
			if err != nil {
				return nil, err
			}
			return &Notifier{Endpoint: endpoint, Retries: retries}, nil
		})).
		DependsOn(
			kernel.Param("endpoint", kernel.ServiceOf[*url.URL]()),
			kernel.Param("retries", kernel.ServiceOf[int]()),
		).
		Parameter("endpoint", "https://hooks.example.com/orders").
		Parameter("retries", "3").
		Register(k); err != nil {
		return err
	}

	_, err := kernel.Component("orders").
		ImplementedBy(kernel.Construct(func(a *kernel.Activation) (*Orders, error) {
			n, err := kernel.Arg[*Notifier](a, "notifier")
			if err != nil {
				return nil, err
			}
			log, err := kernel.Arg[*zap.Logger](a, "logger")
			if err != nil {
				return nil, err
			}
			return &Orders{conns: a.Kernel(), notifier: n, log: log.Named("orders")}, nil
		})).
		DependsOn(
			kernel.NeedsNamed("notifier", kernel.ServiceOf[*Notifier]()),
			kernel.NeedsNamed("logger", kernel.ServiceOf[*zap.Logger]()),
		).
		Register(k)
	return err
}

func (OrdersInstaller) Boot(k *kernel.Kernel) error {
	orders, err := kernel.Resolve[*Orders](k, "orders")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return orders.Place(ctx, "sku-42")
}

func main() {
	application, err := app.New() // loads .env automatically
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := application.Use(OrdersInstaller{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := application.Config()
	application.Logger().Info("starting",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("diagnostics", cfg.Diagnostics.Addr),
	)
	if err := application.Run(ctx); err != nil {
		application.Logger().Error("exited with error", zap.Error(err))
		os.Exit(1)
	}
}
