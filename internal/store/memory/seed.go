package memory

import (
	"pos-service/internal/models"

	"github.com/shopspring/decimal"
)

// AddBranch creates a branch and returns its ID
func (s *Store) AddBranch(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.id()
	s.st.branches[id] = models.Branch{ID: id, Name: name, CreatedAt: s.clock()}
	return id
}

// AddSection creates a section of a branch
func (s *Store) AddSection(branchID int64, name, function string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.id()
	s.st.sections[id] = models.Section{ID: id, BranchID: branchID, Name: name, Function: function, CreatedAt: s.clock()}
	return id
}

// AddTable creates a free table
func (s *Store) AddTable(branchID int64, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.id()
	s.st.tables[id] = models.Table{ID: id, BranchID: branchID, Name: name, Status: models.TableStatusFree, UpdatedAt: s.clock()}
	return id
}

// AddProductType creates a product type limited to the given section functions
func (s *Store) AddProductType(name string, allowedFunctions ...string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.id()
	s.st.productTypes[id] = models.ProductType{ID: id, Name: name, AllowedFunctions: allowedFunctions}
	return id
}

// AddProduct creates a product; typeID 0 leaves it untyped
func (s *Store) AddProduct(branchID int64, name string, price decimal.Decimal, typeID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.id()
	p := models.Product{ID: id, BranchID: branchID, Name: name, Price: price, CreatedAt: s.clock()}
	if typeID != 0 {
		p.TypeID = &typeID
	}
	s.st.products[id] = p
	return id
}

// AddStaff registers a staff display name
func (s *Store) AddStaff(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.id()
	s.st.staff[id] = name
	return id
}

// SetStock sets a counter directly without writing a movement. sectionID 0
// targets the branch counter.
func (s *Store) SetStock(productID, branchID, sectionID int64, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sectionID == 0 {
		s.st.inventory[stockKey{productID, branchID}] = qty
		return
	}
	s.st.sectionInv[stockKey{productID, sectionID}] = qty
}
