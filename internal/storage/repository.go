package storage

import "bookshelf/internal/models"

// Repository is the persistence surface consumed by the API and service
// layers. Implementations: the JSON-file Storage and the Postgres
// repository.
type Repository interface {
	CreateUser(params CreateUserParams) (models.User, error)
	GetUser(id string) (models.User, error)
	GetUserByEmail(email string) (models.User, error)
	ListUsers() ([]models.User, error)
	UpdateUser(id string, update UserUpdate) (models.User, error)
	Authenticate(email, password string) (models.User, error)

	CreateBook(params CreateBookParams) (models.Book, error)
	GetBook(id string) (models.Book, error)
	ListBooks(ownerID string) ([]models.Book, error)
	ListAllBooks() ([]models.Book, error)
	UpdateBook(id string, update BookUpdate) (models.Book, error)
	DeleteBook(id string) (models.Book, error)
}

var _ Repository = (*Storage)(nil)
var _ Repository = (*PostgresRepository)(nil)
