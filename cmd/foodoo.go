package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rtemka/foodoo/domain"
	"github.com/rtemka/foodoo/pkg/api"
	"github.com/rtemka/foodoo/pkg/catalog"
	"github.com/rtemka/foodoo/pkg/intake"
	"github.com/rtemka/foodoo/pkg/notify"
	"github.com/rtemka/foodoo/pkg/repo/memdb"
	"github.com/rtemka/foodoo/pkg/repo/mongo"
)

// обязательные переменные окружения.
const (
	portEnv = "APP_PORT"
	dbEnv   = "DB_URL"
)

// необязательные переменные окружения.
const (
	dbNameEnv   = "DB_NAME"
	catalogEnv  = "CATALOG_FILE"
	intervalEnv = "REFRESH_INTERVAL"
	snsTopicEnv = "SNS_TOPIC_ARN"
	awsRegEnv   = "AWS_REGION"
)

const (
	defaultDBName   = "foodoo"
	collection      = "Items"
	memoryDB        = "memory"
	defaultInterval = 5 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load() // загружаем переменные окружения
	em, err := envs(portEnv, dbEnv)
	if err != nil {
		return err
	}

	interval, err := durationEnv(intervalEnv, defaultInterval)
	if err != nil {
		return err
	}

	cat, err := catalog.Load(os.Getenv(catalogEnv))
	if err != nil {
		return err
	}

	db, err := openRepo(em[dbEnv], envOr(dbNameEnv, defaultDBName))
	if err != nil {
		return err
	}
	defer db.Close()

	// создание контекста для регулирования
	// закрытие всех подсистем
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nl := log.New(os.Stdout, "Notify:", log.Lmsgprefix|log.LstdFlags)
	hub := notify.NewHub(nl)
	notifiers := notify.Fanout{hub}
	if arn, ok := os.LookupEnv(snsTopicEnv); ok {
		s, err := notify.NewSNSFromEnv(ctx, os.Getenv(awsRegEnv), arn)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, s)
	}

	tl := log.New(os.Stdout, "Intake:", log.Lmsgprefix|log.LstdFlags)
	tracker := intake.New(db, cat, notifiers, tl)
	go tracker.Run(ctx, interval) // периодическое обновление списка

	var wg sync.WaitGroup
	wg.Add(1)

	al := log.New(os.Stdout, "API:", log.Lmsgprefix|log.LstdFlags)

	servers := []*http.Server{
		startRestServer(api.New(tracker, hub, al), al, em, &wg),
	}

	// логика закрытия сервера
	cancelation(cancel, servers)

	wg.Wait()
	tracker.Wait()

	return nil
}

// openRepo подключается к mongo, либо, если connstr == "memory",
// возвращает БД в памяти.
func openRepo(connstr, database string) (domain.Repository, error) {
	if connstr == memoryDB {
		return memdb.New(), nil
	}
	return mongo.New(connstr, database, collection)
}

// cancellation отслеживает сигналы прерывания и,
// если они получены, "мягко" отменяет контекст приложения и
// гасит серверы.
func cancelation(cancel context.CancelFunc, servers []*http.Server) {
	// ловим сигналов прерывания, типа CTRL-C
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-stop // получили сигнал
		log.Printf("got signal %q", sig)

		// закрываем серверы
		for i := range servers {
			if err := servers[i].Shutdown(context.Background()); err != nil {
				log.Fatal(err)
			}
		}

		cancel() // закрываем контекст приложения
	}()
}

// envs собирает ожидаемые переменные окружения,
// возвращает ошибку, если какая-либо из переменных env не задана.
func envs(envs ...string) (map[string]string, error) {
	em := make(map[string]string, len(envs))
	var ok bool
	for _, env := range envs {
		if em[env], ok = os.LookupEnv(env); !ok {
			return nil, fmt.Errorf("environment variable %q must be set", env)
		}
	}
	return em, nil
}

// envOr возвращает значение переменной env или def.
func envOr(env, def string) string {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	return def
}

// durationEnv разбирает переменную env как time.Duration.
func durationEnv(env string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(env)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("environment variable %q: bad duration %q", env, v)
	}
	return d, nil
}

// startRestServer запускает сервер REST API.
func startRestServer(a *api.API, logger *log.Logger, env map[string]string, wg *sync.WaitGroup) *http.Server {

	// конфигурируем сервер
	srv := &http.Server{
		Addr:              env[portEnv],
		Handler:           a.Router(),
		IdleTimeout:       3 * time.Minute,
		ReadHeaderTimeout: time.Minute,
	}

	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
		logger.Println("server is shut down")
		wg.Done()
	}()
	return srv
}
