package db

import (
	"collab-script-editor/internal/domain"
	"collab-script-editor/internal/user"
	"context"
	"log"
)

// Migrate runs database migrations
func Migrate() {
	err := AppDb.AutoMigrate(
		&domain.User{},
		&domain.Document{},
		&domain.ScriptComponent{},
		&domain.Comment{},
		&domain.EditLock{},
	)

	if err != nil {
		log.Fatal(err)
	}

	log.Println("Database schema migrated successfully")
}

// SeedData seeds the database with initial data (for development only)
func SeedData() {
	userRepo := user.NewRepository(AppDb)

	testUser := &domain.User{
		Name:     "Test Producer",
		Email:    "producer@example.com",
		Password: "password123",
		Role:     "employee",
		IsActive: true,
	}

	ctx := context.Background()

	// Check if user exists
	_, err := userRepo.FindByEmail(ctx, testUser.Email)
	if err != nil {
		userService := user.NewService(userRepo)
		// User doesn't exist, create it
		if err := userService.Register(ctx, testUser); err != nil {
			log.Printf("Error creating test user: %v", err)
		} else {
			log.Printf("Created test user: %s", testUser.Email)
		}
	} else {
		log.Printf("Test user already exists: %s", testUser.Email)
	}
}
