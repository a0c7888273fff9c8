package util

const (
	StorageMySQL  = "mysql"
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

const (
	LedgerRedis  = "redis"
	LedgerDB     = "db"
	LedgerMemory = "memory"
)
