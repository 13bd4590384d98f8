package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/go-sql-driver/mysql"
	"github.com/localnerve/doctypesdb/data"
	"github.com/localnerve/doctypesdb/internal/config"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Containers is a MySQL server and a Redis server on a private network.
type Containers struct {
	Network        *testcontainers.DockerNetwork
	DBContainer    testcontainers.Container
	RedisContainer testcontainers.Container

	DBHost    string
	DBPort    string
	RedisHost string
	RedisPort string

	database string
	user     string
	password string
}

// Terminate stops every started container and removes the network.
func (tc *Containers) Terminate(t testing.TB) {
	ctx := context.Background()
	if tc.RedisContainer != nil {
		if err := tc.RedisContainer.Terminate(ctx); err != nil {
			logMessage(t, "Failed to terminate Redis: %v", err)
		}
	}
	if tc.DBContainer != nil {
		if err := tc.DBContainer.Terminate(ctx); err != nil {
			logMessage(t, "Failed to terminate MySQL: %v", err)
		}
	}
	if tc.Network != nil {
		if err := tc.Network.Remove(ctx); err != nil {
			logMessage(t, "Failed to remove network: %v", err)
		}
	}
}

// Env returns the environment a service needs to reach the containers from the host.
func (tc *Containers) Env() map[string]string {
	return map[string]string{
		"DB_TYPE":     "mysql",
		"DB_HOST":     tc.DBHost,
		"DB_PORT":     tc.DBPort,
		"DB_DATABASE": tc.database,
		"DB_USER":     tc.user,
		"DB_PASSWORD": tc.password,
		"REDIS_HOST":  tc.RedisHost,
		"REDIS_PORT":  tc.RedisPort,
	}
}

// Config returns a service configuration pointing at the containers.
func (tc *Containers) Config() *config.Config {
	return &config.Config{
		DBType:            "mysql",
		DBHost:            tc.DBHost,
		DBPort:            tc.DBPort,
		DBDatabase:        tc.database,
		DBUser:            tc.user,
		DBPassword:        tc.password,
		DBConnectionLimit: 5,
		DBLogLevel:        "warn",
		TablePrefix:       "dt_",
		RedisHost:         tc.RedisHost,
		RedisPort:         tc.RedisPort,
		LockTTL:           30 * time.Second,
		LockRefresh:       5 * time.Second,
		CacheTTL:          time.Minute,
	}
}

// StartContainers starts MySQL and Redis and grants the service account its DDL rights.
// Images and credentials come from DB_IMAGE, REDIS_IMAGE, DB_ROOT_PASSWORD, DB_DATABASE,
// DB_USER and DB_PASSWORD, with test defaults. A nil t exits the process on failure.
func StartContainers(t testing.TB) (*Containers, error) {
	ctx := context.Background()
	tc := &Containers{
		database: envOr("DB_DATABASE", "doctypes"),
		user:     envOr("DB_USER", "doctypes"),
		password: envOr("DB_PASSWORD", "doctypes"),
	}
	rootPassword := envOr("DB_ROOT_PASSWORD", "rootpass")

	// Create a network
	nw, err := network.New(ctx)
	if err != nil {
		exitWithError(t, err, "Failed to create network")
		return nil, err
	}
	tc.Network = nw
	networkName := nw.Name

	// Create and start the Database container
	tcpDBPort, err := nat.NewPort("tcp", "3306")
	if err != nil {
		tc.Terminate(t)
		exitWithError(t, err, "Failed to create DB port")
		return nil, err
	}
	dbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        envOr("DB_IMAGE", "mysql:8.4"),
			ExposedPorts: []string{string(tcpDBPort)},
			Env: map[string]string{
				"MYSQL_ROOT_PASSWORD": rootPassword,
				"MYSQL_DATABASE":      tc.database,
				"MYSQL_USER":          tc.user,
				"MYSQL_PASSWORD":      tc.password,
			},
			WaitingFor: wait.ForListeningPort(tcpDBPort).WithStartupTimeout(90 * time.Second),
			Networks:   []string{networkName},
			NetworkAliases: map[string][]string{
				networkName: {"mysql"},
			},
		},
		Started: true,
	})
	if err != nil {
		tc.Terminate(t)
		exitWithError(t, err, "Failed to start MySQL")
		return nil, err
	}
	tc.DBContainer = dbContainer

	dbHost, _ := dbContainer.Host(ctx)
	dbPort, err := dbContainer.MappedPort(ctx, tcpDBPort)
	if err != nil {
		tc.Terminate(t)
		exitWithError(t, err, "Failed to map MySQL port")
		return nil, err
	}
	tc.DBHost, tc.DBPort = dbHost, dbPort.Port()

	if err := tc.initMySQL(rootPassword); err != nil {
		tc.Terminate(t)
		exitWithError(t, err, "Failed to initialize database")
		return nil, err
	}

	// Create and start the Redis container
	tcpRedisPort, err := nat.NewPort("tcp", "6379")
	if err != nil {
		tc.Terminate(t)
		exitWithError(t, err, "Failed to create Redis port")
		return nil, err
	}
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        envOr("REDIS_IMAGE", "redis:7-alpine"),
			ExposedPorts: []string{string(tcpRedisPort)},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
			Networks:     []string{networkName},
			NetworkAliases: map[string][]string{
				networkName: {"redis"},
			},
		},
		Started: true,
	})
	if err != nil {
		tc.Terminate(t)
		exitWithError(t, err, "Failed to start Redis")
		return nil, err
	}
	tc.RedisContainer = redisContainer

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, err := redisContainer.MappedPort(ctx, tcpRedisPort)
	if err != nil {
		tc.Terminate(t)
		exitWithError(t, err, "Failed to map Redis port")
		return nil, err
	}
	tc.RedisHost, tc.RedisPort = redisHost, redisPort.Port()

	logMessage(t, "DB_HOST=%s DB_PORT=%s REDIS_HOST=%s REDIS_PORT=%s", tc.DBHost, tc.DBPort, tc.RedisHost, tc.RedisPort)
	return tc, nil
}

func (tc *Containers) initMySQL(rootPassword string) error {
	db, err := sql.Open("mysql", fmt.Sprintf("root:%s@tcp(%s:%s)/", rootPassword, tc.DBHost, tc.DBPort))
	if err != nil {
		return err
	}
	defer db.Close()

	// Wait for connection to be really ready
	for i := 0; i < 30; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		return fmt.Errorf("MySQL not ready after 30 seconds: %w", err)
	}

	script := strings.NewReplacer("${DB_DATABASE}", tc.database, "${DB_USER}", tc.user).Replace(data.InitdbMySQLPrivileges)
	return executeSQL(db, script)
}

// executeSQL runs each statement of a script. Lines starting with -- are comments.
func executeSQL(db *sql.DB, script string) error {
	var lines []string
	for _, l := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), "--") {
			continue
		}
		lines = append(lines, l)
	}
	for _, q := range strings.Split(strings.Join(lines, "\n"), ";") {
		if strings.TrimSpace(q) == "" {
			continue
		}
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("%s : when executing > %s", err.Error(), q)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func exitWithError(t testing.TB, err error, msg string) {
	if t != nil {
		t.Fatalf(msg+": %v", err)
	} else {
		fmt.Printf(msg+": %v\n", err)
		os.Exit(1)
	}
}

func logMessage(t testing.TB, format string, args ...any) {
	if t != nil {
		t.Logf(format, args...)
	} else {
		fmt.Printf(format+"\n", args...)
	}
}
