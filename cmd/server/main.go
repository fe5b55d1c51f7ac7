package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/config"
	"github.com/hirelocal/hirelocal/internal/db"
	"github.com/hirelocal/hirelocal/internal/httpapi"
	"github.com/hirelocal/hirelocal/internal/job"
	"github.com/hirelocal/hirelocal/internal/settings"
	"github.com/hirelocal/hirelocal/internal/sms"
	"github.com/hirelocal/hirelocal/internal/store/rabbitmq"
	"github.com/hirelocal/hirelocal/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer pub.Close()

	chatSvc := chat.NewService(chat.NewRepo(gdb))
	settingsSvc := settings.NewService(gdb, rds)
	smsCfg := sms.Config{Sender: cfg.SMSSender}
	jobSvc := job.NewService(job.NewRepo(gdb), chatSvc, settingsSvc, pub,
		func(phone, text string) error { return sms.Send(smsCfg, phone, text) },
		job.Config{
			GroupSizeDefault: cfg.CategorizerGroupSize,
			FeePercent:       cfg.PlatformFeePercent,
			BidExpiry:        time.Duration(cfg.BidExpiryHours) * time.Hour,
			PriorityWindow:   time.Duration(cfg.BidPriorityWindowHours) * time.Hour,
			ReminderInterval: time.Duration(cfg.OnboardingReminderMinutes) * time.Minute,
			ReminderCount:    cfg.OnboardingReminderCount,
		})
	chatSvc.SetCommandHandler(jobSvc)

	router := httpapi.NewRouter(gdb, cfg, chatSvc, jobSvc, settingsSvc)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("http listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Bid expiry sweeper: pending bids past their 24h window get
	// rejected here rather than on read.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n, err := jobSvc.ExpireStaleBids(ctx); err != nil {
					log.Printf("bid sweeper: %v", err)
				} else if n > 0 {
					log.Printf("bid sweeper expired=%d", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
