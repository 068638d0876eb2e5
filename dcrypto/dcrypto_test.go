// Copyright 2016 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dcrypto_test

import (
	"bytes"
	"crypto/rand"
	"io/ioutil"
	"testing"

	"github.com/fileshare-client/fileshare/dcrypto"
	"github.com/fileshare-client/fileshare/dcrypto/v1"
)

func randBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	_, err := rand.Read(b)
	return b, err
}

// TestRoundTrip exercises several sizes of payload and passwords through
// encrypt then decrypt, verifying the plaintext comes back unchanged.
func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 24, 1337, 66560}
	passwords := []string{
		"",
		"guest",
	}
	for _, x := range []int{13, 400} {
		rp, err := randBytes(x)
		if err != nil {
			t.Fatalf("randBytes(%d) => err", x)
		}
		passwords = append(passwords, string(rp))
	}
	for _, spass := range passwords {
		password := []byte(spass)
		for _, size := range sizes {
			b, err := randBytes(size)
			if err != nil {
				t.Errorf("randBytes(%d) => %q; want nil", size, err)
				continue
			}
			encReader, err := dcrypto.NewEncrypter(bytes.NewBuffer(b), password)
			if err != nil {
				t.Errorf("NewEncrypter() => %q; want nil", err)
				continue
			}
			cipher, err := ioutil.ReadAll(encReader)
			if err != nil {
				t.Errorf("ioutil.ReadAll(*Encrypter) => %q; want nil", err)
				continue
			}
			decReader, err := dcrypto.NewDecrypter(bytes.NewBuffer(cipher), password)
			if err != nil {
				t.Errorf("NewDecrypter() => %q; want nil", err)
				continue
			}
			plain, err := ioutil.ReadAll(decReader)
			decReader.Close()
			if err != nil {
				t.Errorf("ioutil.ReadAll(*Decrypter) => %q; want nil", err)
				continue
			}
			if !bytes.Equal(b, plain) {
				t.Errorf("encrypt/decrypt of size %d resulted in different values", size)
			}
		}
	}
}

// TestWrongPasswordFails verifies a decrypt with the wrong password is
// rejected by the HMAC check, which runs inside NewDecrypter before any
// plaintext is handed out, rather than silently returning garbage.
func TestWrongPasswordFails(t *testing.T) {
	b, err := randBytes(512)
	if err != nil {
		t.Fatalf("randBytes => %v", err)
	}
	encReader, err := dcrypto.NewEncrypter(bytes.NewBuffer(b), []byte("correct horse"))
	if err != nil {
		t.Fatalf("NewEncrypter => %v", err)
	}
	cipher, err := ioutil.ReadAll(encReader)
	if err != nil {
		t.Fatalf("ReadAll => %v", err)
	}
	decReader, err := dcrypto.NewDecrypter(bytes.NewBuffer(cipher), []byte("wrong password"))
	if err == nil {
		decReader.Close()
		t.Fatalf("decrypt with wrong password => nil error; want a verification failure")
	}
	if err != v1.DecryptErr {
		t.Errorf("NewDecrypter with wrong password => %v; want %v", err, v1.DecryptErr)
	}
}
