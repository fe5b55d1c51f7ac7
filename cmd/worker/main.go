package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/config"
	"github.com/hirelocal/hirelocal/internal/db"
	"github.com/hirelocal/hirelocal/internal/job"
	"github.com/hirelocal/hirelocal/internal/settings"
	"github.com/hirelocal/hirelocal/internal/sms"
	"github.com/hirelocal/hirelocal/internal/store/rabbitmq"
	"github.com/hirelocal/hirelocal/internal/store/redisstore"
	"github.com/hirelocal/hirelocal/internal/tasks"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	chatSvc := chat.NewService(chat.NewRepo(gdb))
	settingsSvc := settings.NewService(gdb, rds)

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer pub.Close()

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

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				var t tasks.Task
				if err := json.Unmarshal(d.Body, &t); err != nil || t.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := jobSvc.HandleTask(ctx, t); err != nil {
					log.Printf("worker=%d task=%s job=%s failed cost=%s err=%v",
						workerID, t.Type, t.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed task=%s job=%s err=%v", workerID, t.Type, t.JobID, err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			deliveries <- d
		}
	}
}
